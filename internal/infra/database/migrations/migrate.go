package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
	"gorm.io/gorm"
)

// Migrate ensures the attempts schema exists. Safe to run on every startup.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createMessageAttemptsTable(),
	})

	return m.Migrate()
}

func createMessageAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_message_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_message_attempts_created_at ON message_attempts (created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_message_attempts_run_id ON message_attempts (run_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageAttemptModel{})
		},
	}
}
