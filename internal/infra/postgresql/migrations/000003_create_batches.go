package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"gorm.io/gorm"
)

// Batch items are keyed by (batch_id, item_index) and written once, when the
// batch settles.
func createBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}, &repository.BatchItemModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_batches_status_created_at ON batches (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_items_source_id ON batch_items (source_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.BatchItemModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}
