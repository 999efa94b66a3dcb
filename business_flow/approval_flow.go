// Package businessflow contains the core business logic and use cases for the approval workflow
package businessflow

import (
	"context"
	"strings"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/repository"
	"github.com/communitrade/matching-engine/utils"
	"gorm.io/gorm"
)

// ApprovalFlow handles the broker review queue
type ApprovalFlow interface {
	ListApprovals(ctx context.Context, tenantID string, req *dto.ListApprovalsRequest) (*dto.ListApprovalsResponse, error)
	Approve(ctx context.Context, tenantID string, matchID uint, reviewerID uint, metadata *ClientMetadata) (*dto.ApprovalDecisionResponse, error)
	Reject(ctx context.Context, tenantID string, matchID uint, reviewerID uint, reason string, metadata *ClientMetadata) (*dto.ApprovalDecisionResponse, error)
}

// ApprovalFlowImpl implements the approval business flow
type ApprovalFlowImpl struct {
	recordRepo repository.MatchRecordRepository
	metrics    *services.EngineMetrics
	db         *gorm.DB
}

// NewApprovalFlow creates a new approval flow instance
func NewApprovalFlow(
	recordRepo repository.MatchRecordRepository,
	metrics *services.EngineMetrics,
	db *gorm.DB,
) ApprovalFlow {
	return &ApprovalFlowImpl{
		recordRepo: recordRepo,
		metrics:    metrics,
		db:         db,
	}
}

// ListApprovals returns one page of the review queue, oldest first
func (s *ApprovalFlowImpl) ListApprovals(ctx context.Context, tenantID string, req *dto.ListApprovalsRequest) (*dto.ListApprovalsResponse, error) {
	page := 1
	if req != nil && req.Page > 0 {
		page = req.Page
	}

	filter := models.MatchRecordFilter{TenantID: &tenantID}
	if req != nil && req.Status != "" {
		status := models.MatchStatus(req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("MATCH_LIST_FAILED", "Unknown status filter", nil)
		}
		filter.Status = &status
	}

	total, err := s.recordRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("MATCH_LIST_FAILED", "Failed to count match records", err)
	}

	pageSize := utils.ApprovalsPageSize
	offset := (page - 1) * pageSize

	records, err := s.recordRepo.ByFilter(ctx, filter, "created_at ASC", pageSize, offset)
	if err != nil {
		return nil, NewBusinessError("MATCH_LIST_FAILED", "Failed to list match records", err)
	}

	items := make([]dto.MatchRecordDTO, 0, len(records))
	for _, record := range records {
		items = append(items, dto.ToMatchRecordDTO(*record))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	return &dto.ListApprovalsResponse{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}

// Approve transitions a pending record to approved. The transition is a
// compare-and-swap on status; a concurrent reviewer losing the race gets the
// earlier decision back, not a silent overwrite.
func (s *ApprovalFlowImpl) Approve(ctx context.Context, tenantID string, matchID uint, reviewerID uint, metadata *ClientMetadata) (*dto.ApprovalDecisionResponse, error) {
	record, err := s.decide(ctx, tenantID, matchID, reviewerID, models.MatchStatusApproved, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.ApprovalDecision(tenantID, models.MatchStatusApproved.String())

	return &dto.ApprovalDecisionResponse{
		Message: "Match approved successfully",
		Record:  dto.ToMatchRecordDTO(*record),
	}, nil
}

// Reject transitions a pending record to rejected. The reason is mandatory
// and lands in notes; the pair is excluded from future generation for good.
func (s *ApprovalFlowImpl) Reject(ctx context.Context, tenantID string, matchID uint, reviewerID uint, reason string, metadata *ClientMetadata) (*dto.ApprovalDecisionResponse, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, NewBusinessError("MATCH_REJECT_FAILED", "Rejection reason is required", ErrRejectionReasonRequired)
	}

	record, err := s.decide(ctx, tenantID, matchID, reviewerID, models.MatchStatusRejected, &reason)
	if err != nil {
		return nil, err
	}

	s.metrics.ApprovalDecision(tenantID, models.MatchStatusRejected.String())

	return &dto.ApprovalDecisionResponse{
		Message: "Match rejected successfully",
		Record:  dto.ToMatchRecordDTO(*record),
	}, nil
}

// decide runs one status transition inside a transaction. Never retried:
// approval writes are not idempotent and a retry could double-apply.
func (s *ApprovalFlowImpl) decide(ctx context.Context, tenantID string, matchID uint, reviewerID uint, next models.MatchStatus, notes *string) (*models.MatchRecord, error) {
	var decided *models.MatchRecord

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		record, err := s.recordRepo.ByID(txCtx, matchID)
		if err != nil {
			return NewBusinessError("MATCH_REVIEW_FAILED", "Failed to load match record", err)
		}
		if record == nil || record.TenantID != tenantID {
			return NewBusinessError("MATCH_NOT_FOUND", "Match record not found", ErrMatchNotFound)
		}

		rows, err := s.recordRepo.UpdateStatusIf(txCtx, matchID, models.MatchStatusPending, next, reviewerID, utils.UTCNow(), notes)
		if err != nil {
			return NewBusinessError("MATCH_REVIEW_FAILED", "Failed to update match record", err)
		}
		if rows == 0 {
			// Someone decided first; reload to report who and when.
			current, err := s.recordRepo.ByID(txCtx, matchID)
			if err != nil || current == nil {
				current = record
			}
			return &AlreadyReviewedError{
				Status:     current.Status,
				ReviewerID: current.ReviewerID,
				ReviewedAt: current.ReviewedAt,
			}
		}

		decided, err = s.recordRepo.ByID(txCtx, matchID)
		if err != nil {
			return NewBusinessError("MATCH_REVIEW_FAILED", "Failed to reload match record", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return decided, nil
}
