package gormstore

import "time"

// Partition holds one owner's sessions for one user type as a JSON document.
type Partition struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Owner     string    `gorm:"type:varchar(128);not null;uniqueIndex:uniq_assistant_partition,priority:1"`
	UserType  string    `gorm:"type:varchar(16);not null;uniqueIndex:uniq_assistant_partition,priority:2"`
	Data      string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Partition) TableName() string { return "assistant_partitions" }

// TurnEvent is the analytics row the worker writes per finished turn.
type TurnEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Owner       string    `gorm:"type:varchar(128);index;not null"`
	UserType    string    `gorm:"type:varchar(16);not null"`
	SessionID   string    `gorm:"type:varchar(26);index;not null"`
	Phase       string    `gorm:"type:varchar(16);not null"`
	Outcome     string    `gorm:"type:varchar(16);index;not null"`
	FailureKind *string   `gorm:"type:varchar(32)"`
	Matches     int       `gorm:"not null"`
	At          time.Time `gorm:"index;not null"`
	CreatedAt   time.Time
}

func (TurnEvent) TableName() string { return "assistant_turn_events" }
