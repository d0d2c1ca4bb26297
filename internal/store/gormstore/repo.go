// Package gormstore persists assistant partitions and turn events with gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates or updates the tables this package owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Partition{}, &TurnEvent{})
}

func (r *Repo) Load(ctx context.Context, key chat.PartitionKey) ([]byte, error) {
	var p Partition
	err := r.db.WithContext(ctx).
		Where("owner = ? AND user_type = ?", key.Owner, string(key.UserType)).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrPartitionNotFound
		}
		return nil, err
	}
	return []byte(p.Data), nil
}

// Save upserts the whole document in one statement.
func (r *Repo) Save(ctx context.Context, key chat.PartitionKey, data []byte) error {
	now := time.Now()
	p := Partition{
		Owner:     key.Owner,
		UserType:  string(key.UserType),
		Data:      string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "user_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&p).Error
}

func (r *Repo) InsertTurnEvent(ctx context.Context, ev chat.TurnEvent) error {
	row := TurnEvent{
		Owner:     ev.Owner,
		UserType:  string(ev.UserType),
		SessionID: ev.SessionID,
		Phase:     string(ev.Phase),
		Outcome:   string(ev.Outcome),
		Matches:   ev.Matches,
		At:        ev.At,
	}
	if ev.FailureKind != "" {
		kind := ev.FailureKind
		row.FailureKind = &kind
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// ListTurnEvents returns the owner's events newest first.
func (r *Repo) ListTurnEvents(ctx context.Context, owner string, limit int) ([]TurnEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []TurnEvent
	if err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
