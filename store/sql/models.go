package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-qbexport/core"
)

type reportSnapshotRecord struct {
	bun.BaseModel `bun:"table:qbexport_report_snapshots,alias:rs"`

	ID               string            `bun:"id,pk"`
	TargetProjectID  string            `bun:"target_project_id,notnull"`
	TargetCode       string            `bun:"target_code,notnull"`
	TargetName       string            `bun:"target_name,notnull"`
	StartDate        string            `bun:"start_date,notnull"`
	EndDate          string            `bun:"end_date,notnull"`
	ProjectCount     int               `bun:"project_count,notnull"`
	TransactionCount int               `bun:"transaction_count,notnull"`
	TotalAmount      float64           `bun:"total_amount,notnull"`
	Truncated        bool              `bun:"truncated,notnull"`
	Truncations      []core.Truncation `bun:"truncations,type:jsonb,notnull"`
	Payload          string            `bun:"payload,notnull"`
	GeneratedAt      time.Time         `bun:"generated_at,notnull"`
	CreatedAt        time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type summaryRowRecord struct {
	bun.BaseModel `bun:"table:qbexport_summary_rows,alias:sr"`

	ID          string    `bun:"id,pk"`
	SnapshotID  string    `bun:"snapshot_id,notnull"`
	ProjectKey  string    `bun:"project_key,notnull"`
	ProjectName string    `bun:"project_name,notnull"`
	Count       int       `bun:"count,notnull"`
	Total       float64   `bun:"total,notnull"`
	Position    int       `bun:"position,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
