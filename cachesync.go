// Package cachesync is the public API for the Azure DevOps cache-and-sync
// core (spec §2): it composes the DataStore (A), the per-kind Updaters (D),
// the DataUpdateService (E), the CacheManager (F) state machine, and the
// LiveDataProvider (G) read facade behind a single entry point, the way the
// teacher's Engine wraps its store/fetcher/ai collaborators in engine.go.
package cachesync

import (
	"context"
	"log/slog"

	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/cachemanager"
	"github.com/azuredevops/cachesync/internal/dataupdate"
	"github.com/azuredevops/cachesync/internal/eventbus"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/livedata"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
	"github.com/azuredevops/cachesync/internal/updater/myworkitems"
	"github.com/azuredevops/cachesync/internal/updater/pipeline"
	"github.com/azuredevops/cachesync/internal/updater/pullrequest"
	"github.com/azuredevops/cachesync/internal/updater/query"
	"github.com/azuredevops/cachesync/internal/validate"
)

// Client is the top-level handle a CLI, MCP server, or UI layer holds. It
// owns both halves of the DataStore, drives the CacheManager's background
// refresh loop, and exposes the four SearchDefinitionRepository variants for
// managing what gets synced.
type Client struct {
	cache      *store.CacheStore
	persistent *store.PersistentStore

	Manager *cachemanager.Manager
	Live    *livedata.Provider
	service *dataupdate.Service

	Queries      *store.QueryDefRepository
	PullRequests *store.PullRequestSearchDefRepository
	Pipelines    *store.DefinitionSearchDefRepository
	Projects     *store.ProjectSettingsRepository

	accounts account.Provider
}

// Open bootstraps both databases, wires every collaborator, and returns a
// ready-to-use Client. It does not start the periodic refresh loop; call
// Start for that (spec §4.5: idle until the first Start/Refresh/PeriodicUpdate).
func Open(ctx context.Context, cfg *Config, remote liveclient.Client, accounts account.Provider, connections account.ConnectionProvider, username string) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	cache, err := store.OpenCacheStore(ctx, cfg.Database.CachePath)
	if err != nil {
		return nil, err
	}
	persistent, err := store.OpenPersistentStore(ctx, cfg.Database.PersistentPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	base := updater.Base{
		Cache:       cache,
		Persistent:  persistent,
		Client:      remote,
		Accounts:    accounts,
		Connections: connections,
	}

	queryUpdater := query.New(base)
	queryUpdater.BatchSize = cfg.Sync.WorkItemBatchSize
	queryUpdater.TTL = cfg.Sync.QueryWorkItemTTL

	prUpdater := pullrequest.New(base)
	prUpdater.TTL = cfg.Sync.PullRequestSearchPullRequestTTL
	if cfg.PolicyOverridePath != "" {
		override, err := pullrequest.LoadSeverityOverride(cfg.PolicyOverridePath)
		if err != nil {
			cache.Close()
			persistent.Close()
			return nil, err
		}
		prUpdater.SeverityOverride = override
	}

	pipelineUpdater := pipeline.New(base)
	pipelineUpdater.DefinitionThrottle = cfg.Sync.DefinitionRefreshThrottle
	pipelineUpdater.BuildRetention = cfg.Sync.BuildRetention

	myWorkItemsUpdater := myworkitems.New(base, slog.Default())

	service := dataupdate.New(cache, queryUpdater, prUpdater, pipelineUpdater, myWorkItemsUpdater)

	discover := func(ctx context.Context) ([]updater.Search, error) {
		queryDefs, err := persistent.GetAllQueryDefs(ctx, false)
		if err != nil {
			return nil, err
		}
		prDefs, err := persistent.GetAllPullRequestSearchDefs(ctx, false)
		if err != nil {
			return nil, err
		}
		pipelineDefs, err := persistent.GetAllDefinitionSearchDefs(ctx, false)
		if err != nil {
			return nil, err
		}
		return service.DiscoverAllSearches(ctx, queryDefs, prDefs, pipelineDefs)
	}

	manager := cachemanager.New(service, cachemanager.Config{
		PeriodicInterval: cfg.Timing.PeriodicInterval,
		RefreshCooldown:  cfg.Timing.RefreshCooldown,
	}, discover, username)

	provider := livedata.New(manager, queryUpdater, prUpdater, pipelineUpdater, myWorkItemsUpdater)

	validator := validate.NewURLValidator()

	return &Client{
		cache:        cache,
		persistent:   persistent,
		Manager:      manager,
		Live:         provider,
		service:      service,
		Queries:      store.NewQueryDefRepository(persistent, validator),
		PullRequests: store.NewPullRequestSearchDefRepository(persistent, validator),
		Pipelines:    store.NewDefinitionSearchDefRepository(persistent, validator),
		Projects:     store.NewProjectSettingsRepository(persistent, validator),
		accounts:     accounts,
	}, nil
}

// Start begins the CacheManager's periodic refresh loop (spec §6
// "periodicInterval = 10 min, cold start included").
func (c *Client) Start() { c.Manager.Start() }

// Stop halts the periodic refresh loop. In-flight syncs are not cancelled.
func (c *Client) Stop() { c.Manager.Stop() }

// Close stops the refresh loop and releases both database handles.
func (c *Client) Close() error {
	c.Manager.Stop()
	if err := c.cache.Close(); err != nil {
		c.persistent.Close()
		return err
	}
	return c.persistent.Close()
}

// OnUpdate exposes the CacheManager's terminal-event bus (spec §4.5
// "OnUpdate(source, kind, params, ex?)") for UI layers that want to react
// to sync completion rather than poll.
func (c *Client) OnUpdate() *eventbus.Bus[cachemanager.OnUpdateEvent] { return c.Manager.OnUpdate }

// GetQueryWorkItems implements the read path for a saved work-item query
// (spec §4.6): returns cached rows immediately, refreshing in the background
// or, on a cold cache, blocking for the first sync.
func (c *Client) GetQueryWorkItems(ctx context.Context, def store.QueryDef) ([]store.WorkItem, error) {
	return c.Live.GetQueryChildren(ctx, def)
}

// GetPullRequests implements the read path for a pull-request search.
func (c *Client) GetPullRequests(ctx context.Context, def store.PullRequestSearchDef) ([]store.PullRequest, error) {
	return c.Live.GetPullRequestChildren(ctx, def)
}

// GetBuilds implements the read path for a pipeline-definition search.
func (c *Client) GetBuilds(ctx context.Context, def store.DefinitionSearchDef) ([]store.Build, error) {
	return c.Live.GetBuilds(ctx, def)
}

// GetMyWorkItems implements the read path for the synthesized "assigned to
// me" search scoped to a project.
func (c *Client) GetMyWorkItems(ctx context.Context, settings store.ProjectSettings) ([]store.WorkItem, error) {
	return c.Live.GetMyWorkItems(ctx, settings)
}

// Refresh requests an out-of-band sync for one search, subject to the
// refresh cooldown (spec §4.5 "Refresh").
func (c *Client) Refresh(ctx context.Context, search updater.Search) {
	c.Manager.Refresh(ctx, search)
}

// SignOut signs the account out and asks the CacheManager to clear the cache
// store: every cached row was fetched under an identity that's no longer
// active. Saved search definitions in the persistent store are kept. The
// purge runs asynchronously; the CacheManager publishes an OnUpdate event
// when it finishes.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.accounts.SignOut(ctx); err != nil {
		return err
	}
	c.Manager.ClearCache(ctx)
	return nil
}

// PruneObsoleteData runs the TTL and orphan garbage-collection pass for
// every search kind (spec §4.3.1). Intended to be called periodically by
// the host process alongside, not instead of, the CacheManager's own sync
// cycle.
func (c *Client) PruneObsoleteData(ctx context.Context) error {
	return c.service.PruneObsoleteData(ctx)
}

// PurgeAllData empties the cache store without signing out (saved search
// definitions in the persistent store are kept), per spec §4.5
// "ClearCache" semantics exposed directly for callers that don't want to
// route through the state machine (e.g. an operator "reset" command).
func (c *Client) PurgeAllData(ctx context.Context) error {
	return c.service.PurgeAllData(ctx)
}
