// Package businessflow contains the core business logic and use cases of the matching engine
package businessflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/communitrade/matching-engine/models"
)

// Business flow error constants
var (
	// Config errors
	ErrConfigNotFound      = errors.New("match config not found")
	ErrMatchingDisabled    = errors.New("matching is disabled for this tenant")
	ErrConfigUpdateEmpty   = errors.New("at least one field must be provided for update")
	ErrTimezoneUnknown     = errors.New("unknown timezone")
	ErrWeightOutOfRange    = errors.New("weight must be between 0 and 1")
	ErrBandOrderInvalid    = errors.New("proximity bands must be strictly increasing in distance")
	ErrWeightSumInvalid    = errors.New("weights must sum to 1.0 within tolerance")
	ErrThresholdOutOfRange = errors.New("threshold must be between 0 and 100")

	// Subject errors
	ErrSubjectListingNotFound = errors.New("subject listing not found")
	ErrSubjectListingInactive = errors.New("subject listing is inactive")
	ErrListingTenantMismatch  = errors.New("listing does not belong to this tenant")
	ErrListingUserMismatch    = errors.New("listing does not belong to this user")

	// Approval errors
	ErrMatchNotFound           = errors.New("match record not found")
	ErrMatchAlreadyReviewed    = errors.New("match record was already reviewed")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")

	// Stats / listing errors
	ErrInvalidWindowDays = errors.New("window days must be between 1 and 365")
	ErrInvalidPage       = errors.New("page must be at least 1")

	// Dependency errors
	ErrDataAccessFailed = errors.New("data access failed")
	ErrCacheUnavailable = errors.New("match cache unavailable")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AlreadyReviewedError carries the earlier decision so the UI can show who
// reviewed the match and when instead of a generic failure.
type AlreadyReviewedError struct {
	Status     models.MatchStatus
	ReviewerID *uint
	ReviewedAt *time.Time
}

func (e *AlreadyReviewedError) Error() string {
	msg := fmt.Sprintf("this match was already %s", e.Status)
	if e.ReviewerID != nil {
		msg += fmt.Sprintf(" by reviewer %d", *e.ReviewerID)
	}
	if e.ReviewedAt != nil {
		msg += fmt.Sprintf(" at %s", e.ReviewedAt.UTC().Format(time.RFC3339))
	}
	return msg
}

func (e *AlreadyReviewedError) Is(target error) bool {
	return target == ErrMatchAlreadyReviewed
}

func IsConfigNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound)
}

func IsMatchingDisabled(err error) bool {
	return errors.Is(err, ErrMatchingDisabled)
}

func IsConfigUpdateEmpty(err error) bool {
	return errors.Is(err, ErrConfigUpdateEmpty)
}

func IsWeightSumInvalid(err error) bool {
	return errors.Is(err, ErrWeightSumInvalid)
}

func IsSubjectListingNotFound(err error) bool {
	return errors.Is(err, ErrSubjectListingNotFound)
}

func IsSubjectListingInactive(err error) bool {
	return errors.Is(err, ErrSubjectListingInactive)
}

func IsListingTenantMismatch(err error) bool {
	return errors.Is(err, ErrListingTenantMismatch)
}

func IsListingUserMismatch(err error) bool {
	return errors.Is(err, ErrListingUserMismatch)
}

func IsMatchNotFound(err error) bool {
	return errors.Is(err, ErrMatchNotFound)
}

func IsMatchAlreadyReviewed(err error) bool {
	return errors.Is(err, ErrMatchAlreadyReviewed)
}

func IsRejectionReasonRequired(err error) bool {
	return errors.Is(err, ErrRejectionReasonRequired)
}

func IsInvalidWindowDays(err error) bool {
	return errors.Is(err, ErrInvalidWindowDays)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsDataAccessFailed(err error) bool {
	return errors.Is(err, ErrDataAccessFailed)
}

func IsCacheUnavailable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable)
}
