package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/azuredevops/cachesync/internal/store"
)

func TestOutputWorkItems_JSON(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)

	items := []store.WorkItem{
		{ExternalID: 1, Title: "Fix crash", State: "Active", HTMLURL: "https://example/1"},
	}
	if err := f.OutputWorkItems(items); err != nil {
		t.Fatalf("OutputWorkItems: %v", err)
	}

	var decoded []store.WorkItem
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Title != "Fix crash" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestOutputWorkItems_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	items := []store.WorkItem{{ExternalID: 42, Title: "Investigate", State: "New"}}
	if err := f.OutputWorkItems(items); err != nil {
		t.Fatalf("OutputWorkItems: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "id=42") || !strings.Contains(got, "state=New") {
		t.Errorf("unexpected text output: %s", got)
	}
}

func TestOutputWorkItems_HumanEmpty(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	if err := f.OutputWorkItems(nil); err != nil {
		t.Fatalf("OutputWorkItems: %v", err)
	}
	if !strings.Contains(out.String(), "No work items") {
		t.Errorf("expected empty-state message, got %q", out.String())
	}
}

func TestOutputPullRequests_HumanMarksRejected(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	prs := []store.PullRequest{
		{ExternalID: 7, Title: "Add feature", PolicyStatus: store.PolicyRejected, PolicyStatusReason: "build failed"},
	}
	if err := f.OutputPullRequests(prs); err != nil {
		t.Fatalf("OutputPullRequests: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "✗") {
		t.Errorf("expected rejection marker, got %q", got)
	}
	if !strings.Contains(got, "build failed") {
		t.Errorf("expected policy reason, got %q", got)
	}
}

func TestOutputBuilds_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	builds := []store.Build{{ExternalID: 1, BuildNumber: "20260803.1", Status: "completed", Result: "succeeded"}}
	if err := f.OutputBuilds(builds); err != nil {
		t.Fatalf("OutputBuilds: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "number=20260803.1") || !strings.Contains(got, "result=succeeded") {
		t.Errorf("unexpected text output: %s", got)
	}
}

func TestOutputSyncEvent(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	if err := f.OutputSyncEvent(SyncEvent{Kind: "Error", SearchKey: "query:abc", Error: "remote timeout"}); err != nil {
		t.Fatalf("OutputSyncEvent: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "sync failed") || !strings.Contains(got, "remote timeout") {
		t.Errorf("unexpected output: %s", got)
	}
}

func TestFormatterErrorAndWarning(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	f.Error("boom: %s", "bad")
	f.Warning("careful: %d", 3)

	got := errBuf.String()
	if !strings.Contains(got, "boom: bad") {
		t.Errorf("missing error line: %s", got)
	}
	if !strings.Contains(got, "Warning: careful: 3") {
		t.Errorf("missing warning line: %s", got)
	}
}

func TestOutputWorkItemsUnknownFormat(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(Format("bogus"), &out, &errBuf)

	if err := f.OutputWorkItems(nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
