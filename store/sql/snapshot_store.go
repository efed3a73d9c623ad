package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-qbexport/core"
)

// SnapshotStore keeps a copy of every generated report: one snapshot row
// holding the report JSON plus one row per summarized project.
type SnapshotStore struct {
	db        *bun.DB
	snapshots repository.Repository[*reportSnapshotRecord]
	rows      repository.Repository[*summaryRowRecord]
	now       func() time.Time
}

// SnapshotSummary is the listing view of a stored report.
type SnapshotSummary struct {
	ID               string
	TargetProjectID  string
	TargetCode       string
	TargetName       string
	StartDate        string
	EndDate          string
	ProjectCount     int
	TransactionCount int
	TotalAmount      float64
	Truncated        bool
	Truncations      []core.Truncation
	GeneratedAt      time.Time
}

type SummaryRow struct {
	ProjectKey  string
	ProjectName string
	Count       int
	Total       float64
}

func NewSnapshotStore(db *bun.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	snapshots := repository.NewRepository[*reportSnapshotRecord](db, reportSnapshotHandlers())
	if validator, ok := snapshots.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid snapshot repository wiring: %w", err)
		}
	}
	rows := repository.NewRepository[*summaryRowRecord](db, summaryRowHandlers())
	if validator, ok := rows.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid summary row repository wiring: %w", err)
		}
	}
	return &SnapshotStore{
		db:        db,
		snapshots: snapshots,
		rows:      rows,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SnapshotStore) SaveReport(ctx context.Context, report core.Report) (string, error) {
	if s == nil || s.db == nil || s.snapshots == nil || s.rows == nil {
		return "", fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode report: %w", err)
	}

	now := s.now()
	generatedAt := report.GeneratedAt.UTC()
	if generatedAt.IsZero() {
		generatedAt = now
	}
	record := &reportSnapshotRecord{
		ID:               uuid.NewString(),
		StartDate:        strings.TrimSpace(report.StartDate),
		EndDate:          strings.TrimSpace(report.EndDate),
		ProjectCount:     len(report.ProjectIDs),
		TransactionCount: report.Totals.Count,
		TotalAmount:      report.Totals.Total,
		Truncated:        report.Truncated(),
		Truncations:      append([]core.Truncation{}, report.Truncations...),
		Payload:          string(payload),
		GeneratedAt:      generatedAt,
		CreatedAt:        now,
	}
	if report.Target != nil {
		record.TargetProjectID = report.Target.ID
		record.TargetCode = report.Target.Code
		record.TargetName = report.Target.Name
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, createErr := s.snapshots.CreateTx(ctx, tx, record); createErr != nil {
			return createErr
		}
		for position, key := range core.SortedSummaryKeys(report.Summary) {
			summary := report.Summary[key]
			row := &summaryRowRecord{
				ID:          uuid.NewString(),
				SnapshotID:  record.ID,
				ProjectKey:  key,
				ProjectName: summary.ProjectName,
				Count:       summary.Count,
				Total:       summary.Total,
				Position:    position,
				CreatedAt:   now,
			}
			if _, createErr := s.rows.CreateTx(ctx, tx, row); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sqlstore: save report snapshot: %w", err)
	}
	return record.ID, nil
}

// GetReport decodes a stored report. Raw expense records are not stored.
func (s *SnapshotStore) GetReport(ctx context.Context, id string) (core.Report, error) {
	if s == nil || s.snapshots == nil {
		return core.Report{}, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	record, err := s.snapshots.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Report{}, err
	}
	var report core.Report
	if err := json.Unmarshal([]byte(record.Payload), &report); err != nil {
		return core.Report{}, fmt.Errorf("sqlstore: decode report snapshot: %w", err)
	}
	report.ID = record.ID
	return report, nil
}

// ListSnapshots returns the newest snapshots first, optionally filtered by
// target project code.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, targetCode string, limit int) ([]SnapshotSummary, error) {
	if s == nil || s.snapshots == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	criteria := []repository.SelectCriteria{
		repository.OrderBy("generated_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if code := strings.TrimSpace(targetCode); code != "" {
		criteria = append(criteria, repository.SelectBy("target_code", "=", code))
	}
	records, _, err := s.snapshots.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotSummary, 0, len(records))
	for _, record := range records {
		out = append(out, SnapshotSummary{
			ID:               record.ID,
			TargetProjectID:  record.TargetProjectID,
			TargetCode:       record.TargetCode,
			TargetName:       record.TargetName,
			StartDate:        record.StartDate,
			EndDate:          record.EndDate,
			ProjectCount:     record.ProjectCount,
			TransactionCount: record.TransactionCount,
			TotalAmount:      record.TotalAmount,
			Truncated:        record.Truncated,
			Truncations:      append([]core.Truncation(nil), record.Truncations...),
			GeneratedAt:      record.GeneratedAt,
		})
	}
	return out, nil
}

func (s *SnapshotStore) SummaryRows(ctx context.Context, snapshotID string) ([]SummaryRow, error) {
	if s == nil || s.rows == nil {
		return nil, fmt.Errorf("sqlstore: snapshot store is not configured")
	}
	records, _, err := s.rows.List(ctx,
		repository.SelectBy("snapshot_id", "=", strings.TrimSpace(snapshotID)),
		repository.OrderBy("position ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]SummaryRow, 0, len(records))
	for _, record := range records {
		out = append(out, SummaryRow{
			ProjectKey:  record.ProjectKey,
			ProjectName: record.ProjectName,
			Count:       record.Count,
			Total:       record.Total,
		})
	}
	return out, nil
}
