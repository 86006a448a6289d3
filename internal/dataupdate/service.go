// Package dataupdate implements the DataUpdateService (spec §4.4): a
// multiplexer over per-kind Updaters that guarantees exactly one terminal
// event per dispatch, including the `All` fan-out (spec §9 Open Question 1).
package dataupdate

import (
	"context"
	"fmt"
	"time"

	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/eventbus"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
	"github.com/azuredevops/cachesync/internal/updater/myworkitems"
)

// UpdateKind selects which Updater(s) a dispatch targets.
type UpdateKind string

const (
	KindAll          UpdateKind = "All"
	KindQuery        UpdateKind = "Query"
	KindPullRequests UpdateKind = "PullRequests"
	KindPipeline     UpdateKind = "Pipeline"
	KindMyWorkItems  UpdateKind = "MyWorkItems"
)

// EventKind is the terminal outcome of one dispatch.
type EventKind string

const (
	EventSuccess EventKind = "Success"
	EventCancel  EventKind = "Cancel"
	EventError   EventKind = "Error"
)

// Event is published exactly once per dispatch (spec §4.4, §7 "every
// dispatch emits exactly one terminal event").
type Event struct {
	Kind       EventKind
	UpdateKind UpdateKind
	Search     updater.Search
	Err        error
}

// Service multiplexes updateData/prune calls across the four per-kind
// Updaters, keyed by UpdateKind (spec §4.4 "a dictionary keyed by
// UpdateKind mapping to an Updater").
type Service struct {
	Cache *store.CacheStore

	updaters   map[UpdateKind]updater.Updater
	myWorkItems *myworkitems.Updater

	Bus *eventbus.Bus[Event]
}

// New constructs a Service. myWorkItemsUpdater is held separately from the
// uniform updater map because only it knows how to discover its own
// searches (spec §4.3 MyWorkItemsUpdater "Discovery").
func New(cache *store.CacheStore, query, pullRequests, pipeline updater.Updater, myWorkItemsUpdater *myworkitems.Updater) *Service {
	return &Service{
		Cache: cache,
		updaters: map[UpdateKind]updater.Updater{
			KindQuery:        query,
			KindPullRequests: pullRequests,
			KindPipeline:     pipeline,
			KindMyWorkItems:  myWorkItemsUpdater,
		},
		myWorkItems: myWorkItemsUpdater,
		Bus:         eventbus.New[Event](),
	}
}

// Dispatch runs updateData for one search and publishes exactly one
// terminal event, recovering from a panic inside the Updater so an
// internal invariant failure still surfaces as an Error event rather than
// crashing the caller (spec §7 InternalInvariant: "logged, reported as Error").
func (s *Service) Dispatch(ctx context.Context, kind UpdateKind, search updater.Search, username string) (err error) {
	u, ok := s.updaters[kind]
	if !ok || u == nil {
		err = errs.New(errs.InternalInvariant, fmt.Sprintf("no updater registered for kind %q", kind))
		s.Bus.Publish(Event{Kind: EventError, UpdateKind: kind, Search: search, Err: err})
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.InternalInvariant, fmt.Sprintf("panic in updater %q: %v", kind, r))
			s.Bus.Publish(Event{Kind: EventError, UpdateKind: kind, Search: search, Err: err})
		}
	}()

	err = u.UpdateData(ctx, updater.UpdateParams{Search: search, Username: username})
	switch {
	case err == nil:
		if terr := s.touchLastUpdated(ctx); terr != nil {
			err = terr
			s.Bus.Publish(Event{Kind: EventError, UpdateKind: kind, Search: search, Err: err})
			return err
		}
		s.Bus.Publish(Event{Kind: EventSuccess, UpdateKind: kind, Search: search})
	case errs.Is(err, errs.Cancelled):
		s.Bus.Publish(Event{Kind: EventCancel, UpdateKind: kind, Search: search, Err: err})
	default:
		s.Bus.Publish(Event{Kind: EventError, UpdateKind: kind, Search: search, Err: err})
	}
	return err
}

// All runs every configured search across every kind. Per spec §9's
// resolved open question, the whole fan-out still terminates with exactly
// one event on the bus (kind=All) regardless of how many individual
// per-search dispatches failed; individual failures are aggregated, never
// left to wedge the caller (CacheManager) in a half-finished state.
func (s *Service) All(ctx context.Context, username string, searches []updater.Search) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.InternalInvariant, fmt.Sprintf("panic in All dispatch: %v", r))
		}
		switch {
		case err == nil:
			if terr := s.touchLastUpdated(ctx); terr != nil {
				err = terr
				s.Bus.Publish(Event{Kind: EventError, UpdateKind: KindAll, Err: err})
				return
			}
			s.Bus.Publish(Event{Kind: EventSuccess, UpdateKind: KindAll})
		case errs.Is(err, errs.Cancelled):
			s.Bus.Publish(Event{Kind: EventCancel, UpdateKind: KindAll, Err: err})
		default:
			s.Bus.Publish(Event{Kind: EventError, UpdateKind: KindAll, Err: err})
		}
	}()

	var firstErr error
	for _, search := range searches {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "all update cancelled", ctx.Err())
		}
		if derr := s.dispatchWithinAll(ctx, search, username); derr != nil && firstErr == nil {
			firstErr = derr
		}
	}
	return firstErr
}

// dispatchWithinAll is Dispatch without publishing its own per-search
// event onto the bus — the All-level wrapper already guarantees exactly
// one event for the whole cycle, and publishing one per sub-call here too
// would let a single periodic tick look like many independent updates to
// subscribers that only care about the aggregate outcome.
func (s *Service) dispatchWithinAll(ctx context.Context, search updater.Search, username string) (err error) {
	kind := kindFor(search)
	u, ok := s.updaters[kind]
	if !ok || u == nil {
		return errs.New(errs.InternalInvariant, fmt.Sprintf("no updater registered for kind %q", kind))
	}
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.InternalInvariant, fmt.Sprintf("panic in updater %q: %v", kind, r))
		}
	}()
	return u.UpdateData(ctx, updater.UpdateParams{Search: search, Username: username})
}

func kindFor(s updater.Search) UpdateKind {
	switch s.Kind {
	case updater.KindQuery:
		return KindQuery
	case updater.KindPullRequests:
		return KindPullRequests
	case updater.KindPipeline:
		return KindPipeline
	case updater.KindMyWorkItems:
		return KindMyWorkItems
	default:
		return ""
	}
}

// DiscoverAllSearches gathers every search to run in an All cycle: the
// persisted definitions for the three explicit kinds, plus whatever
// MyWorkItemsUpdater.DiscoverSearches resolves.
func (s *Service) DiscoverAllSearches(ctx context.Context, queryDefs []store.QueryDef, prDefs []store.PullRequestSearchDef, pipelineDefs []store.DefinitionSearchDef) ([]updater.Search, error) {
	var searches []updater.Search
	for _, d := range queryDefs {
		searches = append(searches, updater.NewQuerySearch(d))
	}
	for _, d := range prDefs {
		searches = append(searches, updater.NewPullRequestSearch(d))
	}
	for _, d := range pipelineDefs {
		searches = append(searches, updater.NewPipelineSearch(d))
	}
	myWI, err := s.myWorkItems.DiscoverSearches(ctx)
	if err != nil {
		return nil, err
	}
	searches = append(searches, myWI...)
	return searches, nil
}

// IsNewOrStaleData delegates to the relevant Updater's staleness predicate.
func (s *Service) IsNewOrStaleData(ctx context.Context, search updater.Search, cooldown time.Duration) (bool, error) {
	kind := kindFor(search)
	u, ok := s.updaters[kind]
	if !ok || u == nil {
		return false, errs.New(errs.InternalInvariant, fmt.Sprintf("no updater registered for kind %q", kind))
	}
	return u.IsNewOrStale(ctx, search, cooldown)
}

// LastUpdated returns the wall-clock time of the last successful dispatch,
// persisted in the cache store's metadata table.
func (s *Service) LastUpdated(ctx context.Context) (store.Ticks, error) {
	return s.Cache.GetLastUpdated(ctx)
}

// touchLastUpdated records the current time as the last successful sync.
func (s *Service) touchLastUpdated(ctx context.Context) error {
	return s.Cache.SetLastUpdated(ctx, store.Now())
}

// PruneObsoleteData runs every Updater's pruning pass, TTL before orphans
// within each (spec §4.3.1); cross-kind orphan collection is idempotent so
// running it once per kind is safe.
func (s *Service) PruneObsoleteData(ctx context.Context) error {
	for kind, u := range s.updaters {
		if u == nil {
			continue
		}
		if err := u.PruneObsoleteData(ctx); err != nil {
			return errs.Wrap(errs.DataStoreInaccessible, fmt.Sprintf("prune %q", kind), err)
		}
	}
	return nil
}

// PurgeAllData empties every table of the cache store (spec §4.4 purgeAllData).
func (s *Service) PurgeAllData(ctx context.Context) error {
	return s.Cache.PurgeAll(ctx)
}
