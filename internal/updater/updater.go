// Package updater defines the closed tagged union of searches and the
// uniform Updater contract every per-kind updater implements (spec §4.3,
// §9 "Polymorphism over search kinds... re-express as a closed tagged
// union... with a dispatch table kind -> Updater").
package updater

import (
	"context"
	"time"

	"github.com/azuredevops/cachesync/internal/store"
)

// Kind identifies which of the four search shapes a Search carries.
type Kind string

const (
	KindQuery         Kind = "Query"
	KindPullRequests  Kind = "PullRequests"
	KindPipeline      Kind = "Pipeline"
	KindMyWorkItems   Kind = "MyWorkItems"
)

// Search is the closed tagged union Search = Query | PullRequest | Pipeline
// | MyWorkItems. Exactly one of the pointer fields matching Kind is non-nil.
type Search struct {
	Kind        Kind
	Query       *store.QueryDef
	PullRequest *store.PullRequestSearchDef
	Pipeline    *store.DefinitionSearchDef
	MyWorkItems *store.ProjectSettings
}

// NewQuerySearch wraps a persisted query definition.
func NewQuerySearch(d store.QueryDef) Search { return Search{Kind: KindQuery, Query: &d} }

// NewPullRequestSearch wraps a persisted pull-request search definition.
func NewPullRequestSearch(d store.PullRequestSearchDef) Search {
	return Search{Kind: KindPullRequests, PullRequest: &d}
}

// NewPipelineSearch wraps a persisted pipeline search definition.
func NewPipelineSearch(d store.DefinitionSearchDef) Search {
	return Search{Kind: KindPipeline, Pipeline: &d}
}

// NewMyWorkItemsSearch wraps a project settings row, implicitly defining
// the "my work items" search for that project.
func NewMyWorkItemsSearch(s store.ProjectSettings) Search {
	return Search{Kind: KindMyWorkItems, MyWorkItems: &s}
}

// Key returns a natural key stable across process restarts, used by
// CacheManager to recognize "an update for the same search" for
// cancel-before-restart and cooldown tracking (spec §5 "Ordering guarantees").
func (s Search) Key() string {
	switch s.Kind {
	case KindQuery:
		return "query:" + s.Query.URL
	case KindPullRequests:
		return "pr:" + s.PullRequest.URL + "|" + string(s.PullRequest.View)
	case KindPipeline:
		return "pipeline:" + s.Pipeline.URL
	case KindMyWorkItems:
		return "mywi:" + s.MyWorkItems.OrganizationURL + "|" + s.MyWorkItems.ProjectName
	default:
		return "unknown"
	}
}

// UpdateParams is the single argument every Updater.UpdateData call takes.
type UpdateParams struct {
	Search   Search
	Username string // current signed-in identity's login, used to scope results
}

// Updater is the uniform contract every per-kind updater implements
// (spec §4.3's pseudocode block). UpdateData must be cancellable via ctx
// and must emit no partial writes on cancellation (transactional rollback).
type Updater interface {
	UpdateData(ctx context.Context, params UpdateParams) error
	IsNewOrStale(ctx context.Context, s Search, cooldown time.Duration) (bool, error)
	PruneObsoleteData(ctx context.Context) error
}
