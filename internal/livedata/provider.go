// Package livedata implements the LiveDataProvider read-side facade (spec
// §4.6): warm reads return cached rows immediately and fire off a
// background refresh; a cold miss blocks on the next terminal event.
package livedata

import (
	"context"

	"github.com/azuredevops/cachesync/internal/cachemanager"
	"github.com/azuredevops/cachesync/internal/dataupdate"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
	"github.com/azuredevops/cachesync/internal/updater/myworkitems"
	"github.com/azuredevops/cachesync/internal/updater/pipeline"
	"github.com/azuredevops/cachesync/internal/updater/pullrequest"
	"github.com/azuredevops/cachesync/internal/updater/query"
)

// Provider is the read-side facade the UI/CLI/MCP layers call into. It
// never itself performs a remote fetch; every read either returns cached
// rows immediately or awaits the CacheManager's next terminal event.
type Provider struct {
	Manager *cachemanager.Manager

	Query        *query.Updater
	PullRequests *pullrequest.Updater
	Pipeline     *pipeline.Updater
	MyWorkItems  *myworkitems.Updater
}

// New constructs a Provider over an already-wired CacheManager and its updaters.
func New(manager *cachemanager.Manager, q *query.Updater, pr *pullrequest.Updater, pl *pipeline.Updater, mwi *myworkitems.Updater) *Provider {
	return &Provider{Manager: manager, Query: q, PullRequests: pr, Pipeline: pl, MyWorkItems: mwi}
}

// GetQueryChildren implements spec §4.6's read algorithm for a saved query.
func (p *Provider) GetQueryChildren(ctx context.Context, def store.QueryDef) ([]store.WorkItem, error) {
	search := updater.NewQuerySearch(def)
	_, found, err := p.Query.GetCachedDataForSearch(ctx, def)
	if err != nil {
		return nil, err
	}
	if found {
		p.Manager.Refresh(context.Background(), search) // fire-and-forget
		return p.Query.GetCachedChildren(ctx, def)
	}
	if err := p.awaitColdRefresh(ctx, search); err != nil {
		return nil, err
	}
	return p.Query.GetCachedChildren(ctx, def)
}

// GetPullRequestChildren implements spec §4.6's read algorithm for a PR search.
func (p *Provider) GetPullRequestChildren(ctx context.Context, def store.PullRequestSearchDef) ([]store.PullRequest, error) {
	search := updater.NewPullRequestSearch(def)
	_, found, err := p.PullRequests.GetCachedDataForSearch(ctx, def)
	if err != nil {
		return nil, err
	}
	if found {
		p.Manager.Refresh(context.Background(), search)
		return p.PullRequests.GetCachedChildren(ctx, def)
	}
	if err := p.awaitColdRefresh(ctx, search); err != nil {
		return nil, err
	}
	return p.PullRequests.GetCachedChildren(ctx, def)
}

// GetBuilds implements spec §4.6's read algorithm for a pipeline search.
func (p *Provider) GetBuilds(ctx context.Context, def store.DefinitionSearchDef) ([]store.Build, error) {
	search := updater.NewPipelineSearch(def)
	_, found, err := p.Pipeline.GetCachedDataForSearch(ctx, def)
	if err != nil {
		return nil, err
	}
	if found {
		p.Manager.Refresh(context.Background(), search)
		return p.Pipeline.GetCachedChildren(ctx, def)
	}
	if err := p.awaitColdRefresh(ctx, search); err != nil {
		return nil, err
	}
	return p.Pipeline.GetCachedChildren(ctx, def)
}

// GetMyWorkItems implements spec §4.6's read algorithm for the synthesized
// my-work-items search.
func (p *Provider) GetMyWorkItems(ctx context.Context, settings store.ProjectSettings) ([]store.WorkItem, error) {
	search := updater.NewMyWorkItemsSearch(settings)
	found, err := p.MyWorkItems.HasSynced(ctx, settings)
	if err != nil {
		return nil, err
	}
	if found {
		p.Manager.Refresh(context.Background(), search)
		return p.MyWorkItems.GetCachedChildren(ctx, settings)
	}
	if err := p.awaitColdRefresh(ctx, search); err != nil {
		return nil, err
	}
	return p.MyWorkItems.GetCachedChildren(ctx, settings)
}

// awaitColdRefresh subscribes a one-shot listener to the CacheManager's
// OnUpdate bus, triggers a refresh, and blocks until that search's
// terminal event fires (spec §4.6 step 4: "await the next terminal event,
// then return the children, which may be empty on Error/Cancel").
func (p *Provider) awaitColdRefresh(ctx context.Context, search updater.Search) error {
	done := make(chan cachemanager.OnUpdateEvent, 1)
	unsub := p.Manager.OnUpdate.Subscribe(func(ev cachemanager.OnUpdateEvent) {
		if ev.Search == nil || ev.Search.Key() != search.Key() {
			return
		}
		select {
		case done <- ev:
		default:
		}
	})
	defer unsub()

	p.Manager.Refresh(ctx, search)

	select {
	case ev := <-done:
		if ev.Kind == dataupdate.EventError {
			return ev.Err
		}
		return nil // Cancel/Success both fall through to a (possibly empty) read
	case <-ctx.Done():
		return ctx.Err()
	}
}
