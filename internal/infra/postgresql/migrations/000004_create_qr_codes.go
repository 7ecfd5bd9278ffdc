package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"gorm.io/gorm"
)

func createQRCodesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_qr_codes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QRCodeModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_qr_codes_source_created ON qr_codes (source_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QRCodeModel{})
		},
	}
}
