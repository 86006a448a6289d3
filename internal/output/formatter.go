// Package output renders CacheManager/LiveDataProvider results for the CLI,
// adapted from the teacher's article-list/notification formatter (spec has
// no rendering module of its own; this is ambient CLI-support carried over
// in the teacher's shape rather than dropped).
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/azuredevops/cachesync/internal/store"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputWorkItems renders a saved query's or my-work-items search's cached
// work items.
func (f *Formatter) OutputWorkItems(items []store.WorkItem) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(items)
	case FormatText:
		for _, wi := range items {
			fmt.Fprintf(f.out, "id=%d\ttitle=%s\tstate=%s\turl=%s\n", wi.ExternalID, wi.Title, wi.State, wi.HTMLURL)
		}
		return nil
	case FormatHuman:
		if len(items) == 0 {
			fmt.Fprintln(f.out, "No work items")
			return nil
		}
		fmt.Fprintf(f.out, "Work items (%d):\n\n", len(items))
		for _, wi := range items {
			fmt.Fprintf(f.out, "#%d %s\n", wi.ExternalID, wi.Title)
			fmt.Fprintf(f.out, "  state: %s\n", wi.State)
			fmt.Fprintf(f.out, "  %s\n", wi.HTMLURL)
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputPullRequests renders a pull-request search's cached results.
func (f *Formatter) OutputPullRequests(prs []store.PullRequest) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(prs)
	case FormatText:
		for _, pr := range prs {
			fmt.Fprintf(f.out, "id=%d\ttitle=%s\tstatus=%s\tpolicy=%s\turl=%s\n",
				pr.ExternalID, pr.Title, pr.Status, pr.PolicyStatus, pr.HTMLURL)
		}
		return nil
	case FormatHuman:
		if len(prs) == 0 {
			fmt.Fprintln(f.out, "No pull requests")
			return nil
		}
		fmt.Fprintf(f.out, "Pull requests (%d):\n\n", len(prs))
		for _, pr := range prs {
			marker := policyMarker(pr.PolicyStatus)
			fmt.Fprintf(f.out, "%s !%d %s\n", marker, pr.ExternalID, pr.Title)
			if pr.PolicyStatusReason != "" {
				fmt.Fprintf(f.out, "  %s\n", pr.PolicyStatusReason)
			}
			fmt.Fprintf(f.out, "  %s\n", pr.HTMLURL)
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func policyMarker(status store.PolicyStatus) string {
	switch status {
	case store.PolicyRejected:
		return "✗"
	case store.PolicyApproved:
		return "✓"
	case store.PolicyRunning, store.PolicyQueued:
		return "…"
	default:
		return "-"
	}
}

// OutputBuilds renders a pipeline definition's cached build history.
func (f *Formatter) OutputBuilds(builds []store.Build) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(builds)
	case FormatText:
		for _, b := range builds {
			fmt.Fprintf(f.out, "id=%d\tnumber=%s\tstatus=%s\tresult=%s\turl=%s\n",
				b.ExternalID, b.BuildNumber, b.Status, b.Result, b.URL)
		}
		return nil
	case FormatHuman:
		if len(builds) == 0 {
			fmt.Fprintln(f.out, "No builds")
			return nil
		}
		fmt.Fprintf(f.out, "Builds (%d):\n\n", len(builds))
		for _, b := range builds {
			fmt.Fprintf(f.out, "%s (%s/%s)\n", b.BuildNumber, b.Status, b.Result)
			fmt.Fprintf(f.out, "  %s\n", b.URL)
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// SyncEvent is the format-agnostic shape of a CacheManager terminal event
// (kept decoupled from internal/cachemanager's own event type so this
// package doesn't need to import the state machine layer).
type SyncEvent struct {
	Kind      string `json:"kind"`
	SearchKey string `json:"search_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OutputSyncEvent renders one CacheManager.OnUpdate notification, for a
// `watch` command that streams sync completions instead of polling.
func (f *Formatter) OutputSyncEvent(ev SyncEvent) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(ev)
	case FormatText:
		fmt.Fprintf(f.out, "event=%s\tsearch=%s\terror=%s\n", ev.Kind, ev.SearchKey, ev.Error)
		return nil
	case FormatHuman:
		switch ev.Kind {
		case "Error":
			fmt.Fprintf(f.out, "⚠️  sync failed for %s: %s\n", ev.SearchKey, ev.Error)
		case "Cancel":
			fmt.Fprintf(f.out, "…  sync cancelled for %s\n", ev.SearchKey)
		default:
			fmt.Fprintf(f.out, "✓  synced %s\n", ev.SearchKey)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

// formatTicks formats a store.Ticks value for output, empty for the zero value.
func formatTicks(t store.Ticks) string {
	if t == 0 {
		return ""
	}
	return t.Time().Format(time.RFC3339)
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
