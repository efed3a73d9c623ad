package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-qbexport/core"
)

func TestRun_UnknownCommandPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), "frobnicate", nil, &stdout, &stderr)
	if code != exitUsage {
		t.Fatalf("expected usage exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") || !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRun_ExportRequiresProjectCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), "export", []string{"-start-date", "2026-01-01"}, &stdout, &stderr)
	if code != exitUsage {
		t.Fatalf("expected usage exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Fatalf("expected validation error, got %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected nothing on stdout, got %q", stdout.String())
	}
}

func TestRun_ExportRejectsBadDate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), "export", []string{"-project-code", "P1", "-start-date", "01/02/2026"}, &stdout, &stderr)
	if code != exitUsage {
		t.Fatalf("expected usage exit code, got %d", code)
	}
}

func TestReportError_ProjectNotFoundListsCodes(t *testing.T) {
	var out bytes.Buffer
	code := reportError(&out, &core.ProjectNotFoundError{Code: "ZZ", KnownCodes: []string{"A1", "B2"}}, false)
	if code != exitFailure {
		t.Fatalf("expected failure exit code, got %d", code)
	}
	got := out.String()
	for _, want := range []string{"Project with code 'ZZ' not found.", "Available project codes:", "  A1", "  B2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "text_code") {
		t.Fatalf("envelope should only print with -verbose")
	}
}

func TestReportError_MappedProjectNotFoundUsesMetadata(t *testing.T) {
	var out bytes.Buffer
	mapped := core.MapError(&core.ProjectNotFoundError{Code: "ZZ", KnownCodes: []string{"A1"}})
	reportError(&out, mapped, true)
	got := out.String()
	if !strings.Contains(got, "'ZZ'") || !strings.Contains(got, "  A1") {
		t.Fatalf("expected code and known codes from metadata, got %q", got)
	}
	if !strings.Contains(got, "text_code: "+core.ErrorProjectNotFound) {
		t.Fatalf("expected verbose envelope, got %q", got)
	}
}

func TestReportError_ProjectNotFoundOnTruncatedListingWarns(t *testing.T) {
	var out bytes.Buffer
	err := &core.ProjectNotFoundError{
		Code:  "C-A",
		Cause: &core.RecordFetchTruncatedError{Entity: "Project", Page: 1, StartPosition: 1},
	}
	reportError(&out, err, false)
	got := out.String()
	if !strings.Contains(got, "Project with code 'C-A' not found.") || !strings.Contains(got, "project listing was incomplete") {
		t.Fatalf("expected truncation warning, got %q", got)
	}
}

func TestReportError_NotAuthenticatedHint(t *testing.T) {
	var out bytes.Buffer
	reportError(&out, core.ErrNotAuthenticated, false)
	if !strings.Contains(out.String(), "Not authenticated with QuickBooks.") || !strings.Contains(out.String(), "qbexport authenticate") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestWarnTruncated_StrictFails(t *testing.T) {
	truncations := []core.Truncation{{Entity: "Purchase", ProjectID: "7", Page: 3, Records: 2000, Reason: "page request failed"}}

	var lenient bytes.Buffer
	if code := warnTruncated(&lenient, truncations, false); code != exitOK {
		t.Fatalf("expected lenient exit 0, got %d", code)
	}
	if !strings.Contains(lenient.String(), "Purchase for project 7 listing stopped at page 3 after 2000 records") {
		t.Fatalf("unexpected warning %q", lenient.String())
	}

	var strict bytes.Buffer
	if code := warnTruncated(&strict, truncations, true); code != exitTruncated {
		t.Fatalf("expected strict exit %d, got %d", exitTruncated, code)
	}
}

func TestPrintTree_IndentsChildren(t *testing.T) {
	h := core.BuildHierarchy([]core.Project{
		{ID: "1", Name: "Parent", ProjectCode: "P"},
		{ID: "2", Name: "Child", ProjectCode: "C", ParentRef: &core.Ref{Value: "1"}},
		{ID: "3", Name: "Loose"},
	})
	var out bytes.Buffer
	printTree(&out, h)
	got := out.String()
	if !strings.Contains(got, "P: Parent\n") || !strings.Contains(got, "  C: Child\n") {
		t.Fatalf("unexpected tree %q", got)
	}
	if !strings.Contains(got, "-: Loose\n") {
		t.Fatalf("expected placeholder for missing code, got %q", got)
	}
}

func TestRun_BatchRequiresProjectCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), "batch", []string{"-project-codes", " , "}, &stdout, &stderr)
	if code != exitUsage {
		t.Fatalf("expected usage exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "-project-codes is required") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}
