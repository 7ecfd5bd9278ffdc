package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"gorm.io/gorm"
)

func createSyncAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_sync_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SyncAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sync_attempts_source_attempted ON sync_attempts (source_id, attempted_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SyncAttemptModel{})
		},
	}
}
