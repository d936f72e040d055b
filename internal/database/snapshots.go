package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserSnapshot stores the serialized place snapshot of one user.
type UserSnapshot struct {
	UserKey          string `gorm:"column:user_key;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserSnapshot) TableName() string {
	return "user_snapshots"
}

// SnapshotRepositoryConfig describes the dependencies of a SnapshotRepository.
type SnapshotRepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// SnapshotRepository implements places.SnapshotStore on top of GORM.
type SnapshotRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSnapshotRepository constructs a repository over an opened database.
func NewSnapshotRepository(cfg SnapshotRepositoryConfig) (*SnapshotRepository, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database: connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SnapshotRepository{db: cfg.Database, now: clock}, nil
}

// Load returns the stored snapshot of the user, or false when none was saved yet.
func (r *SnapshotRepository) Load(ctx context.Context, userKey places.UserKey) (places.Snapshot, bool, error) {
	var row UserSnapshot
	err := r.db.WithContext(ctx).
		Where("user_key = ?", userKey.String()).
		Take(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return places.Snapshot{}, false, nil
	}
	if err != nil {
		return places.Snapshot{}, false, fmt.Errorf("%w: %v", places.ErrStorageUnavailable, err)
	}

	var snapshot places.Snapshot
	if err := json.Unmarshal([]byte(row.PayloadJSON), &snapshot); err != nil {
		return places.Snapshot{}, false, fmt.Errorf("%w: decode snapshot: %v", places.ErrStorageUnavailable, err)
	}
	return snapshot, true, nil
}

// Save overwrites the user's snapshot in a single transaction.
func (r *SnapshotRepository) Save(ctx context.Context, userKey places.UserKey, snapshot places.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", places.ErrStorageWriteError, err)
	}
	row := UserSnapshot{
		UserKey:          userKey.String(),
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: r.now().UTC().Unix(),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", places.ErrStorageWriteError, err)
	}
	return nil
}
