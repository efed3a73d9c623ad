package pagination

import (
	"context"
	"encoding/json"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/providers/quickbooks"
)

type Config struct {
	Querier  core.RecordQuerier
	Tokens   *core.TokenManager
	PageSize int
	Logger   core.Logger
}

// Result is the outcome of a complete walk. Truncated is set when a page
// failed after the walk started; Records then holds everything read before
// the failure and Err is a *core.RecordFetchTruncatedError. Authorization
// failures leave Truncated false and are returned in Err.
type Result struct {
	Records   []json.RawMessage
	Pages     int
	Truncated bool
	Err       error
}

func (r Result) Report(entity string) core.FetchReport {
	return core.FetchReport{
		Entity:    entity,
		Pages:     r.Pages,
		Records:   len(r.Records),
		Truncated: r.Truncated,
		Err:       r.Err,
	}
}

// Fetcher walks the query endpoint with start_position paging. Every page
// request goes through core.WithValidCredential.
type Fetcher struct {
	querier  core.RecordQuerier
	tokens   *core.TokenManager
	pageSize int
	logger   core.Logger
}

func New(cfg Config) (*Fetcher, error) {
	if cfg.Querier == nil {
		return nil, fmt.Errorf("pagination: record querier is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("pagination: token manager is required")
	}
	return &Fetcher{
		querier:  cfg.Querier,
		tokens:   cfg.Tokens,
		pageSize: clampPageSize(cfg.PageSize),
		logger:   glog.Ensure(cfg.Logger),
	}, nil
}

func clampPageSize(size int) int {
	if size <= 0 || size > core.MaxPageSize {
		return core.MaxPageSize
	}
	return size
}

// Each yields pages in order until a short page, a response without the
// entity key, or yield returning false. It returns the number of pages read.
// Each call starts from the first record.
func (f *Fetcher) Each(
	ctx context.Context,
	entity string,
	query string,
	pageSize int,
	yield func(records []json.RawMessage) bool,
) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if pageSize <= 0 {
		pageSize = f.pageSize
	}
	pageSize = clampPageSize(pageSize)

	startPosition := 1
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, &core.RecordFetchTruncatedError{Entity: entity, Page: pages + 1, StartPosition: startPosition, Cause: err}
		}
		position := startPosition
		page, err := core.WithValidCredential(ctx, f.tokens, func(ctx context.Context, cred core.CredentialRecord) (core.QueryPage, error) {
			return f.querier.QueryPage(ctx, cred, entity, query, position, pageSize)
		})
		if err != nil {
			if core.IsAuthFailure(err) {
				return pages, err
			}
			return pages, &core.RecordFetchTruncatedError{Entity: entity, Page: pages + 1, StartPosition: startPosition, Cause: err}
		}
		if !page.Present {
			return pages, nil
		}
		pages++
		f.logger.Debug("fetched page", "entity", entity, "page", pages, "start_position", startPosition, "records", len(page.Records))
		if yield != nil && !yield(page.Records) {
			return pages, nil
		}
		if len(page.Records) < pageSize {
			return pages, nil
		}
		startPosition += len(page.Records)
	}
}

func (f *Fetcher) Fetch(ctx context.Context, entity string, query string, pageSize int) Result {
	var records []json.RawMessage
	pages, err := f.Each(ctx, entity, query, pageSize, func(page []json.RawMessage) bool {
		records = append(records, page...)
		return true
	})
	result := Result{Records: records, Pages: pages, Err: err}
	if err != nil && !core.IsAuthFailure(err) {
		result.Truncated = true
		f.logger.Warn("record fetch truncated",
			"entity", entity,
			"pages", pages,
			"records", len(records),
			"error", err.Error(),
		)
	}
	return result
}

func (f *Fetcher) FetchAll(ctx context.Context, req core.FetchRequest) ([]json.RawMessage, core.FetchReport) {
	result := f.Fetch(ctx, req.Entity, req.Query, req.PageSize)
	return result.Records, result.Report(req.Entity)
}

// FetchProjects reads every Project ordered by name.
func (f *Fetcher) FetchProjects(ctx context.Context) ([]core.Project, core.FetchReport, error) {
	result := f.Fetch(ctx, quickbooks.EntityProject, quickbooks.ProjectQuery(), 0)
	report := result.Report(quickbooks.EntityProject)
	if result.Err != nil && !result.Truncated {
		return nil, report, result.Err
	}
	projects := make([]core.Project, 0, len(result.Records))
	for _, raw := range result.Records {
		project, err := core.DecodeProject(raw)
		if err != nil {
			f.logger.Warn("skipping undecodable project", "error", err.Error())
			continue
		}
		projects = append(projects, project)
	}
	return projects, report, nil
}

// FetchTransactions reads Purchase records for the query, newest first.
func (f *Fetcher) FetchTransactions(ctx context.Context, q core.TransactionQuery) ([]core.Transaction, core.FetchReport, error) {
	query := quickbooks.PurchaseQuery(quickbooks.PurchaseFilter{
		ProjectID: q.ProjectID,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	})
	result := f.Fetch(ctx, quickbooks.EntityPurchase, query, 0)
	report := result.Report(quickbooks.EntityPurchase)
	if result.Err != nil && !result.Truncated {
		return nil, report, result.Err
	}
	txns := make([]core.Transaction, 0, len(result.Records))
	for _, raw := range result.Records {
		txn, err := core.DecodeTransaction(raw)
		if err != nil {
			f.logger.Warn("skipping undecodable transaction", "project_id", q.ProjectID, "error", err.Error())
			continue
		}
		txns = append(txns, txn)
	}
	return txns, report, nil
}

func (f *Fetcher) ListProjects(ctx context.Context) ([]core.Project, core.FetchReport, error) {
	return f.FetchProjects(ctx)
}

func (f *Fetcher) ListTransactions(ctx context.Context, q core.TransactionQuery) ([]core.Transaction, core.FetchReport, error) {
	return f.FetchTransactions(ctx, q)
}

var (
	_ core.RecordFetcher     = (*Fetcher)(nil)
	_ core.ProjectSource     = (*Fetcher)(nil)
	_ core.TransactionSource = (*Fetcher)(nil)
)
