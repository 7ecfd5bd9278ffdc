package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"gorm.io/gorm"
)

// One mapping per source_id ever; target_id is unique only among live rows so
// a deleted person's upstream ID can be reissued.
func createIdentityMappingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_identity_mappings",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.IdentityMappingModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_identity_mappings_source_id ON identity_mappings (source_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_identity_mappings_live_target_id ON identity_mappings (target_id) WHERE state <> 'DELETED' AND target_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_identity_mappings_state_updated ON identity_mappings (state, updated_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.IdentityMappingModel{})
		},
	}
}
