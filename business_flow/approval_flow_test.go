package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRecord(tenantID string, user1, user2 uint) *models.MatchRecord {
	return &models.MatchRecord{
		TenantID:     tenantID,
		User1ID:      user1,
		User2ID:      user2,
		ListingID:    100,
		MatchScore:   85,
		MatchType:    models.MatchTypeOneWay,
		DistanceKm:   4.2,
		CategoryName: "Carpentry",
		MatchReasons: pq.StringArray{"Strong category match"},
		Status:       models.MatchStatusPending,
		CreatedAt:    utils.UTCNow(),
	}
}

func newTestApprovalFlow(recordRepo *stubRecordRepo) ApprovalFlow {
	return NewApprovalFlow(recordRepo, services.NewEngineMetrics(), nil)
}

func TestApprovalFlow_Approve(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("ApprovesPendingRecord", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		record := recordRepo.add(pendingRecord("tenant-1", 10, 20))
		flow := newTestApprovalFlow(recordRepo)

		resp, err := flow.Approve(ctx, "tenant-1", record.ID, 7, metadata)
		require.NoError(t, err)
		assert.Equal(t, "approved", resp.Record.Status)
		require.NotNil(t, resp.Record.ReviewerID)
		assert.Equal(t, uint(7), *resp.Record.ReviewerID)
		assert.NotNil(t, resp.Record.ReviewedAt)
	})

	t.Run("SecondDecisionReportsFirst", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		record := recordRepo.add(pendingRecord("tenant-1", 10, 20))
		flow := newTestApprovalFlow(recordRepo)

		_, err := flow.Approve(ctx, "tenant-1", record.ID, 7, metadata)
		require.NoError(t, err)

		_, err = flow.Reject(ctx, "tenant-1", record.ID, 8, "not a fit", metadata)
		require.Error(t, err)
		assert.True(t, IsMatchAlreadyReviewed(err))

		var reviewed *AlreadyReviewedError
		require.True(t, errors.As(err, &reviewed))
		assert.Equal(t, models.MatchStatusApproved, reviewed.Status)
		require.NotNil(t, reviewed.ReviewerID)
		assert.Equal(t, uint(7), *reviewed.ReviewerID)
		assert.NotNil(t, reviewed.ReviewedAt)
	})

	t.Run("UnknownRecordNotFound", func(t *testing.T) {
		flow := newTestApprovalFlow(newStubRecordRepo())

		_, err := flow.Approve(ctx, "tenant-1", 999, 7, metadata)
		assert.True(t, IsMatchNotFound(err))
	})

	t.Run("OtherTenantRecordNotFound", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		record := recordRepo.add(pendingRecord("tenant-2", 10, 20))
		flow := newTestApprovalFlow(recordRepo)

		_, err := flow.Approve(ctx, "tenant-1", record.ID, 7, metadata)
		assert.True(t, IsMatchNotFound(err))

		// The record in the other tenant stays untouched.
		stored, loadErr := recordRepo.ByID(ctx, record.ID)
		require.NoError(t, loadErr)
		assert.Equal(t, models.MatchStatusPending, stored.Status)
	})
}

func TestApprovalFlow_Reject(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("RejectStoresReasonInNotes", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		record := recordRepo.add(pendingRecord("tenant-1", 10, 20))
		flow := newTestApprovalFlow(recordRepo)

		resp, err := flow.Reject(ctx, "tenant-1", record.ID, 7, "too far for regular trades", metadata)
		require.NoError(t, err)
		assert.Equal(t, "rejected", resp.Record.Status)
		require.NotNil(t, resp.Record.Notes)
		assert.Equal(t, "too far for regular trades", *resp.Record.Notes)
	})

	t.Run("ReasonIsMandatory", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		record := recordRepo.add(pendingRecord("tenant-1", 10, 20))
		flow := newTestApprovalFlow(recordRepo)

		for _, reason := range []string{"", "   ", "\t\n"} {
			_, err := flow.Reject(ctx, "tenant-1", record.ID, 7, reason, metadata)
			assert.True(t, IsRejectionReasonRequired(err), "reason %q", reason)
		}

		// A blank reason must not consume the pending record.
		stored, err := recordRepo.ByID(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusPending, stored.Status)
	})
}

func TestApprovalFlow_ListApprovals(t *testing.T) {
	ctx := context.Background()

	t.Run("PagesOldestFirst", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		base := utils.UTCNow().Add(-time.Hour)
		for i := 0; i < 25; i++ {
			record := pendingRecord("tenant-1", 10, uint(20+i))
			record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			recordRepo.add(record)
		}
		flow := newTestApprovalFlow(recordRepo)

		first, err := flow.ListApprovals(ctx, "tenant-1", &dto.ListApprovalsRequest{Page: 1})
		require.NoError(t, err)
		assert.Len(t, first.Items, utils.ApprovalsPageSize)
		assert.Equal(t, int64(25), first.Pagination.TotalItems)
		assert.Equal(t, 2, first.Pagination.TotalPages)
		assert.Equal(t, uint(20), first.Items[0].User2ID, "oldest record first")

		second, err := flow.ListApprovals(ctx, "tenant-1", &dto.ListApprovalsRequest{Page: 2})
		require.NoError(t, err)
		assert.Len(t, second.Items, 5)
		assert.Equal(t, uint(40), second.Items[0].User2ID)
	})

	t.Run("FiltersByStatus", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		recordRepo.add(pendingRecord("tenant-1", 10, 20))
		approved := pendingRecord("tenant-1", 10, 21)
		approved.Status = models.MatchStatusApproved
		recordRepo.add(approved)
		flow := newTestApprovalFlow(recordRepo)

		resp, err := flow.ListApprovals(ctx, "tenant-1", &dto.ListApprovalsRequest{Status: "approved"})
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "approved", resp.Items[0].Status)
	})

	t.Run("UnknownStatusRejected", func(t *testing.T) {
		flow := newTestApprovalFlow(newStubRecordRepo())

		_, err := flow.ListApprovals(ctx, "tenant-1", &dto.ListApprovalsRequest{Status: "archived"})
		require.Error(t, err)

		var be *BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "MATCH_LIST_FAILED", be.Code)
		assert.Nil(t, be.Err)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		recordRepo := newStubRecordRepo()
		recordRepo.add(pendingRecord("tenant-1", 10, 20))
		recordRepo.add(pendingRecord("tenant-2", 30, 40))
		flow := newTestApprovalFlow(recordRepo)

		resp, err := flow.ListApprovals(ctx, "tenant-1", nil)
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "tenant-1", resp.Items[0].TenantID)
	})
}
