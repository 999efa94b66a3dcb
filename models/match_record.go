package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/communitrade/matching-engine/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MatchStatus represents the review status of a match record
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusApproved MatchStatus = "approved"
	MatchStatusRejected MatchStatus = "rejected"
)

// String returns the string representation of the status
func (s MatchStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusPending, MatchStatusApproved, MatchStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusApproved || s == MatchStatusRejected
}

// Scan implements the sql.Scanner interface for MatchStatus
func (s *MatchStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = MatchStatus(v)
	case []byte:
		*s = MatchStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MatchStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for MatchStatus
func (s MatchStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid MatchStatus: %s", s)
	}
	return string(s), nil
}

// MatchType tags the direction of a match. Mutual wins over one_way when a
// pair qualifies in both directions; hotness is a separate derived boolean.
type MatchType string

const (
	MatchTypeOneWay MatchType = "one_way"
	MatchTypeMutual MatchType = "mutual"
)

// String returns the string representation of the type
func (t MatchType) String() string {
	return string(t)
}

// Valid checks if the type is valid
func (t MatchType) Valid() bool {
	return t == MatchTypeOneWay || t == MatchTypeMutual
}

// Scan implements the sql.Scanner interface for MatchType
func (t *MatchType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = MatchType(v)
	case []byte:
		*t = MatchType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MatchType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for MatchType
func (t MatchType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid MatchType: %s", t)
	}
	return string(t), nil
}

// MatchRecord is the persisted outcome of a scoring pass. Records are created
// pending when broker approval is enabled for the tenant, otherwise directly
// approved. Status transitions only through the approval workflow.
type MatchRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_match_records_uuid" json:"uuid"`
	TenantID     string         `gorm:"not null;index:idx_match_records_tenant_id" json:"tenant_id"`
	User1ID      uint           `gorm:"not null;index:idx_match_records_user_1_id" json:"user_1_id"`
	User2ID      uint           `gorm:"not null;index:idx_match_records_user_2_id" json:"user_2_id"`
	ListingID    uint           `gorm:"not null" json:"listing_id"`
	MatchScore   int            `gorm:"not null" json:"match_score"`
	MatchType    MatchType      `gorm:"type:varchar(16);not null;default:'one_way'" json:"match_type"`
	IsHot        bool           `gorm:"not null;default:false" json:"is_hot"`
	DistanceKm   float64        `gorm:"not null" json:"distance_km"`
	CategoryName string         `gorm:"type:varchar(255)" json:"category_name"`
	MatchReasons pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"match_reasons"`
	Status       MatchStatus    `gorm:"type:varchar(16);not null;default:'pending';index:idx_match_records_status" json:"status"`
	CreatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_match_records_created_at" json:"created_at"`
	ReviewedAt   *time.Time     `json:"reviewed_at,omitempty"`
	ReviewerID   *uint          `json:"reviewer_id,omitempty"`
	Notes        *string        `gorm:"type:text" json:"notes,omitempty"`
}

// TableName returns the table name for the model
func (MatchRecord) TableName() string {
	return "match_records"
}

// BeforeCreate is called before creating a new record
func (m *MatchRecord) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MatchStatusPending
	}
	if m.MatchType == "" {
		m.MatchType = MatchTypeOneWay
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// CanTransitionTo checks if the record can transition to the given status
func (m *MatchRecord) CanTransitionTo(newStatus MatchStatus) bool {
	if m.Status != MatchStatusPending {
		return false
	}
	return newStatus == MatchStatusApproved || newStatus == MatchStatusRejected
}

// IsReviewed reports whether a reviewer already decided on this record.
func (m *MatchRecord) IsReviewed() bool {
	return m.Status.Terminal()
}

// MatchRecordFilter represents filter criteria for match records
type MatchRecordFilter struct {
	ID            *uint        `json:"id,omitempty"`
	UUID          *uuid.UUID   `json:"uuid,omitempty"`
	TenantID      *string      `json:"tenant_id,omitempty"`
	User1ID       *uint        `json:"user_1_id,omitempty"`
	User2ID       *uint        `json:"user_2_id,omitempty"`
	AnyUserID     *uint        `json:"any_user_id,omitempty"`
	Status        *MatchStatus `json:"status,omitempty"`
	MatchType     *MatchType   `json:"match_type,omitempty"`
	IsHot         *bool        `json:"is_hot,omitempty"`
	MinScore      *int         `json:"min_score,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
}

// MatchStatusCounts holds per-status record counts for a window.
type MatchStatusCounts struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

// ApprovalRate returns approved/(approved+rejected) as an integer percent.
// Pending records are excluded from the denominator; zero denominator yields 0.
func (c MatchStatusCounts) ApprovalRate() int {
	reviewed := c.Approved + c.Rejected
	if reviewed == 0 {
		return 0
	}
	return int(float64(c.Approved)/float64(reviewed)*100 + 0.5)
}
