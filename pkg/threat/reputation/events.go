package reputation

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringsJSON stores a string slice as a jsonb column.
type StringsJSON []string

func (j StringsJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "[]", nil
	}
	return json.Marshal(j)
}

func (j *StringsJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported type for StringsJSON: %T", value)
	}
}

// ThreatEvent is a persisted record of an actionable detection. Recorded
// events are the raw material the local reputation provider scores from.
type ThreatEvent struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	IPAddress string      `json:"ip_address" gorm:"index;not null"`
	ActorID   string      `json:"actor_id" gorm:"index"`
	Level     string      `json:"level" gorm:"not null"`
	Score     float64     `json:"score"`
	Reasons   StringsJSON `json:"reasons,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time   `json:"created_at" gorm:"index"`
}

func (ThreatEvent) TableName() string {
	return "threat_events"
}

// DenylistEntry is an operator-managed exact-IP block.
type DenylistEntry struct {
	IPAddress string    `json:"ip_address" gorm:"primaryKey"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (DenylistEntry) TableName() string {
	return "reputation_denylist"
}

// EventStore persists threat events and denylist entries in Postgres.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Migrate() error {
	return s.db.AutoMigrate(&ThreatEvent{}, &DenylistEntry{})
}

// RecordEvents persists a batch of already-built event rows in one insert.
func (s *EventStore) RecordEvents(ctx context.Context, events []ThreatEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&events).Error; err != nil {
		return fmt.Errorf("failed to record threat events: %w", err)
	}
	return nil
}

// RecentByIP returns events for an IP newer than since, most recent first.
func (s *EventStore) RecentByIP(ctx context.Context, ip string, since time.Time, limit int) ([]ThreatEvent, error) {
	var events []ThreatEvent
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND created_at > ?", ip, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load threat events: %w", err)
	}
	return events, nil
}

// Denylist returns all operator-managed denylist entries.
func (s *EventStore) Denylist(ctx context.Context) ([]DenylistEntry, error) {
	var entries []DenylistEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load denylist: %w", err)
	}
	return entries, nil
}

func (s *EventStore) AddToDenylist(ctx context.Context, ip, reason string) error {
	entry := &DenylistEntry{
		IPAddress: ip,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("failed to add denylist entry: %w", err)
	}
	return nil
}

func (s *EventStore) RemoveFromDenylist(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).Delete(&DenylistEntry{IPAddress: ip}).Error
	if err != nil {
		return fmt.Errorf("failed to remove denylist entry: %w", err)
	}
	return nil
}

func (s *EventStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}
