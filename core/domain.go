package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownProjectKey groups transactions that carry no project reference.
const UnknownProjectKey = "unknown"

// UnknownProjectName is the display name used when a reference has no name.
const UnknownProjectName = "Unknown Project"

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func (e Environment) Valid() bool {
	switch e {
	case EnvironmentSandbox, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// CredentialRecord is the only durable entity. It is replaced wholesale on
// every exchange or refresh.
type CredentialRecord struct {
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	RealmID               string     `json:"realm_id,omitempty"`
	TokenType             string     `json:"token_type,omitempty"`
	ExpiresIn             int64      `json:"expires_in,omitempty"`
	RefreshTokenExpiresIn int64      `json:"x_refresh_token_expires_in,omitempty"`
	NoRefresh             bool       `json:"no_refresh,omitempty"`
	IssuedAt              *time.Time `json:"issued_at,omitempty"`
}

func (c CredentialRecord) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("core: credential access token is required")
	}
	if strings.TrimSpace(c.RefreshToken) == "" && !c.NoRefresh {
		return fmt.Errorf("core: credential refresh token is required unless marked as non-refreshable")
	}
	return nil
}

func (c CredentialRecord) Refreshable() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// ExpiresAt reports the access token expiry when both the issue time and the
// lifetime are known.
func (c CredentialRecord) ExpiresAt() (time.Time, bool) {
	if c.IssuedAt == nil || c.ExpiresIn <= 0 {
		return time.Time{}, false
	}
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn) * time.Second), true
}

// Grant is the outcome of a completed consent flow.
type Grant struct {
	Code    string
	RealmID string
}

type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type MetaData struct {
	CreateTime      string `json:"CreateTime,omitempty"`
	LastUpdatedTime string `json:"LastUpdatedTime,omitempty"`
}

type Project struct {
	ID          string   `json:"Id"`
	Name        string   `json:"Name"`
	Description string   `json:"Description,omitempty"`
	ProjectCode string   `json:"ProjectCode,omitempty"`
	Active      *bool    `json:"Active,omitempty"`
	ParentRef   *Ref     `json:"ParentRef,omitempty"`
	MetaData    MetaData `json:"MetaData,omitempty"`
}

type TransactionLine struct {
	ID          string  `json:"Id,omitempty"`
	Description string  `json:"Description,omitempty"`
	Amount      float64 `json:"Amount"`
	DetailType  string  `json:"DetailType,omitempty"`
}

// Transaction is a Purchase record. Raw keeps the full provider payload so
// exports can carry fields this type does not model.
type Transaction struct {
	ID          string            `json:"Id"`
	TxnDate     string            `json:"TxnDate,omitempty"`
	TotalAmt    float64           `json:"TotalAmt"`
	DocNumber   string            `json:"DocNumber,omitempty"`
	PaymentType string            `json:"PaymentType,omitempty"`
	ProjectRef  *Ref              `json:"ProjectRef,omitempty"`
	EntityRef   *Ref              `json:"EntityRef,omitempty"`
	Line        []TransactionLine `json:"Line,omitempty"`
	MetaData    MetaData          `json:"MetaData,omitempty"`
	Raw         json.RawMessage   `json:"-"`
}

func DecodeProject(raw json.RawMessage) (Project, error) {
	var project Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return Project{}, fmt.Errorf("core: decode project: %w", err)
	}
	return project, nil
}

func DecodeTransaction(raw json.RawMessage) (Transaction, error) {
	var txn Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction: %w", err)
	}
	txn.Raw = append(json.RawMessage(nil), raw...)
	return txn, nil
}

// ProjectNode references its parent and children by id.
type ProjectNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Code        string   `json:"code,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	Children    []string `json:"children"`
}

type Hierarchy struct {
	Roots []string                `json:"roots"`
	Nodes map[string]*ProjectNode `json:"nodes"`
	// Order lists node ids in the order they were first seen.
	Order []string `json:"order"`
}

func (h Hierarchy) Node(id string) (*ProjectNode, bool) {
	if h.Nodes == nil {
		return nil, false
	}
	node, ok := h.Nodes[id]
	return node, ok
}

func (h Hierarchy) Len() int {
	return len(h.Nodes)
}

type ExpenseSummary struct {
	ProjectName string        `json:"project_name"`
	Count       int           `json:"count"`
	Total       float64       `json:"total"`
	Expenses    []Transaction `json:"-"`
}

type ReportRequest struct {
	ProjectCode  string
	StartDate    string
	EndDate      string
	ProjectsOnly bool
}

type Truncation struct {
	Entity        string `json:"entity"`
	ProjectID     string `json:"project_id,omitempty"`
	Page          int    `json:"page"`
	StartPosition int    `json:"start_position"`
	Records       int    `json:"records"`
	Reason        string `json:"reason"`
}

// FetchReport describes how a paginated read ended.
type FetchReport struct {
	Entity    string
	Pages     int
	Records   int
	Truncated bool
	Err       error
}

func (r FetchReport) Truncation(projectID string) (Truncation, bool) {
	if !r.Truncated {
		return Truncation{}, false
	}
	out := Truncation{
		Entity:    r.Entity,
		ProjectID: projectID,
		Page:      r.Pages + 1,
		Records:   r.Records,
	}
	if r.Err != nil {
		out.Reason = r.Err.Error()
	}
	var truncated *RecordFetchTruncatedError
	if errors.As(r.Err, &truncated) {
		out.Page = truncated.Page
		out.StartPosition = truncated.StartPosition
	}
	return out, true
}

type Report struct {
	ID          string                    `json:"id,omitempty"`
	Target      *ProjectNode              `json:"target,omitempty"`
	ProjectIDs  []string                  `json:"project_ids"`
	Hierarchy   Hierarchy                 `json:"hierarchy"`
	Expenses    []Transaction             `json:"-"`
	Summary     map[string]ExpenseSummary `json:"summary"`
	Totals      SummaryTotals             `json:"totals"`
	StartDate   string                    `json:"start_date,omitempty"`
	EndDate     string                    `json:"end_date,omitempty"`
	Truncations []Truncation              `json:"truncations,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

func (r Report) Truncated() bool {
	return len(r.Truncations) > 0
}

type CompanyInfo struct {
	RealmID     string         `json:"realm_id"`
	CompanyName string         `json:"company_name"`
	LegalName   string         `json:"legal_name,omitempty"`
	Country     string         `json:"country,omitempty"`
	Raw         map[string]any `json:"-"`
}
