package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCanonicalizeSnapshotKeys = "2024-06-01_canonicalize_snapshot_user_keys"

// legacyKeyPrefixes are provider prefixes older clients stored in front of the subject.
var legacyKeyPrefixes = []string{"google:"}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCanonicalizeSnapshotKeys, apply: canonicalizeSnapshotKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// canonicalizeSnapshotKeys strips provider prefixes from snapshot owners so they
// match the canonical ids issued by the identity service. Rows whose canonical
// key is already taken are left in place.
func canonicalizeSnapshotKeys(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, prefix := range legacyKeyPrefixes {
			start := len(prefix) + 1
			statement := fmt.Sprintf(
				"UPDATE user_snapshots SET user_key = substr(user_key, %d) "+
					"WHERE user_key LIKE '%s%%' AND substr(user_key, %d) NOT IN (SELECT user_key FROM user_snapshots)",
				start, prefix, start)
			if err := tx.Exec(statement).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
