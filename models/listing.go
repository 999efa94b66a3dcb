package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/communitrade/matching-engine/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ListingType distinguishes offers from requests. Matching always pairs a
// listing with one of the complementary type.
type ListingType string

const (
	ListingTypeOffer   ListingType = "offer"
	ListingTypeRequest ListingType = "request"
)

// String returns the string representation of the type
func (t ListingType) String() string {
	return string(t)
}

// Valid checks if the type is valid
func (t ListingType) Valid() bool {
	return t == ListingTypeOffer || t == ListingTypeRequest
}

// Complement returns the opposite listing type.
func (t ListingType) Complement() ListingType {
	if t == ListingTypeOffer {
		return ListingTypeRequest
	}
	return ListingTypeOffer
}

// Scan implements the sql.Scanner interface for ListingType
func (t *ListingType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = ListingType(v)
	case []byte:
		*t = ListingType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ListingType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ListingType
func (t ListingType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ListingType: %s", t)
	}
	return string(t), nil
}

// Listing is the read model of a marketplace listing. The engine never
// creates or mutates listings; their lifecycle belongs to the marketplace.
type Listing struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	TenantID         string         `gorm:"not null;index:idx_listings_tenant_id" json:"tenant_id"`
	UserID           uint           `gorm:"not null;index:idx_listings_user_id" json:"user_id"`
	Type             ListingType    `gorm:"type:varchar(16);not null;index:idx_listings_type" json:"type"`
	CategoryID       uint           `gorm:"not null;index:idx_listings_category_id" json:"category_id"`
	ParentCategoryID uint           `gorm:"not null" json:"parent_category_id"`
	CategoryName     string         `gorm:"type:varchar(255);not null" json:"category_name"`
	Title            string         `gorm:"type:varchar(255);not null" json:"title"`
	Skills           pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"skills"`
	Latitude         float64        `gorm:"not null" json:"latitude"`
	Longitude        float64        `gorm:"not null" json:"longitude"`
	Active           bool           `gorm:"not null;default:true;index:idx_listings_active" json:"active"`
	CreatedAt        time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`

	// DistanceKm is populated by proximity queries, never stored.
	DistanceKm float64 `gorm:"->;-:migration" json:"distance_km,omitempty"`
}

// TableName returns the table name for the model
func (Listing) TableName() string {
	return "listings"
}

// BeforeCreate is called before creating a new record
func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = utils.UTCNow()
	}
	return nil
}

// AgeDays returns the listing age in fractional days at the given time.
func (l *Listing) AgeDays(now time.Time) float64 {
	age := now.Sub(l.CreatedAt)
	if age < 0 {
		return 0
	}
	return age.Hours() / 24
}

// ListingFilter represents filter criteria for listings
type ListingFilter struct {
	ID            *uint        `json:"id,omitempty"`
	TenantID      *string      `json:"tenant_id,omitempty"`
	UserID        *uint        `json:"user_id,omitempty"`
	Type          *ListingType `json:"type,omitempty"`
	CategoryID    *uint        `json:"category_id,omitempty"`
	Active        *bool        `json:"active,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
}

// Profile is the read model of a user profile, consulted for the quality
// sub-score. Completeness and rating may be absent for new users.
type Profile struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;uniqueIndex:uk_profiles_user_id" json:"user_id"`
	TenantID     string     `gorm:"not null;index:idx_profiles_tenant_id" json:"tenant_id"`
	DisplayName  string     `gorm:"type:varchar(255);not null" json:"display_name"`
	Completeness *float64   `json:"completeness,omitempty"`
	Rating       *float64   `json:"rating,omitempty"`
	CreatedAt    time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Profile) TableName() string {
	return "profiles"
}

// UserCategoryIndex summarizes one user's listing categories by type. Built
// by grouped queries, used for reciprocity scoring.
type UserCategoryIndex struct {
	UserID           uint
	OfferCategoryIDs map[uint]struct{}
	NeedCategoryIDs  map[uint]struct{}
}

// OffersAny reports whether the user offers any of the given categories.
func (i *UserCategoryIndex) OffersAny(categoryIDs map[uint]struct{}) bool {
	for id := range categoryIDs {
		if _, ok := i.OfferCategoryIDs[id]; ok {
			return true
		}
	}
	return false
}
