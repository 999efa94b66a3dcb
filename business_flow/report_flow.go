// Package businessflow contains the core business logic and use cases for approval exports
package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/repository"
	"github.com/communitrade/matching-engine/utils"
	"github.com/xuri/excelize/v2"
)

// exportRowCap bounds one export so a huge tenant cannot OOM the process.
const exportRowCap = 10000

// ReportFlow produces the XLSX export of the approval queue
type ReportFlow interface {
	ExportApprovals(ctx context.Context, tenantID string, status string) (content []byte, filename string, err error)
}

// ReportFlowImpl implements the report business flow
type ReportFlowImpl struct {
	recordRepo repository.MatchRecordRepository
}

// NewReportFlow creates a new report flow instance
func NewReportFlow(recordRepo repository.MatchRecordRepository) ReportFlow {
	return &ReportFlowImpl{recordRepo: recordRepo}
}

// ExportApprovals renders the tenant's match records as a spreadsheet,
// optionally filtered by status, newest first.
func (s *ReportFlowImpl) ExportApprovals(ctx context.Context, tenantID string, status string) ([]byte, string, error) {
	filter := models.MatchRecordFilter{TenantID: &tenantID}
	if status != "" {
		parsed := models.MatchStatus(status)
		if !parsed.Valid() {
			return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Unknown status filter", nil)
		}
		filter.Status = &parsed
	}

	records, err := s.recordRepo.ByFilter(ctx, filter, "created_at DESC", exportRowCap, 0)
	if err != nil {
		return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to load match records", err)
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	sheet := "Approvals"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to build spreadsheet", err)
	}

	header := []any{
		"ID", "UUID", "User 1", "User 2", "Listing", "Score", "Type", "Hot",
		"Distance (km)", "Category", "Status", "Created At", "Reviewed At",
		"Reviewer", "Notes", "Reasons",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to build spreadsheet", err)
	}

	for i, record := range records {
		reviewedAt := ""
		if record.ReviewedAt != nil {
			reviewedAt = record.ReviewedAt.UTC().Format("2006-01-02 15:04:05")
		}
		reviewer := ""
		if record.ReviewerID != nil {
			reviewer = fmt.Sprintf("%d", *record.ReviewerID)
		}
		notes := ""
		if record.Notes != nil {
			notes = *record.Notes
		}

		row := []any{
			record.ID,
			record.UUID.String(),
			record.User1ID,
			record.User2ID,
			record.ListingID,
			record.MatchScore,
			record.MatchType.String(),
			record.IsHot,
			record.DistanceKm,
			record.CategoryName,
			record.Status.String(),
			record.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			reviewedAt,
			reviewer,
			notes,
			strings.Join(record.MatchReasons, "; "),
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to build spreadsheet", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to build spreadsheet", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", NewBusinessError("MATCH_EXPORT_FAILED", "Failed to render spreadsheet", err)
	}

	filename := fmt.Sprintf("approvals_%s_%s.xlsx", tenantID, utils.UTCNow().Format("20060102_150405"))
	return buf.Bytes(), filename, nil
}
