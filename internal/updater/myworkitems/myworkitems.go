// Package myworkitems implements the synthesized "my work items" search
// (spec §4.3 MyWorkItemsUpdater): one implicit query per configured
// project, running a fixed WIQL literal scoped to the current identity.
package myworkitems

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
	"github.com/azuredevops/cachesync/internal/validate"
)

// TTL is the join TTL for synthesized my-work-items rows: short, since
// "assigned to me" is expected to be a small, fast-moving set (spec §6).
const TTL = 2 * time.Minute

// Updater implements the per-kind sync for the synthesized my-work-items search.
type Updater struct {
	updater.Base
	Logger *slog.Logger
}

// New constructs a MyWorkItemsUpdater.
func New(base updater.Base, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{Base: base, Logger: logger}
}

// fetchedMyWorkItems holds everything UpdateData needs from the remote
// side, gathered before any cache write transaction is opened (spec §9
// "Transactions").
type fetchedMyWorkItems struct {
	remote     *updater.ResolvedRemote
	items      []liveclient.RemoteWorkItem
	types      map[string]liveclient.RemoteWorkItemType // key: work item type name
	identities map[string]*updater.RemoteIdentity       // key: identity external id
}

// UpdateData runs the synthesized query against the configured project.
func (u *Updater) UpdateData(ctx context.Context, params updater.UpdateParams) error {
	settings := params.Search.MyWorkItems
	if settings == nil {
		return errs.New(errs.InternalInvariant, "my-work-items updater received non-mywi search")
	}

	start := store.Now()

	fetched, err := u.fetchRemote(ctx, settings)
	if err != nil {
		return err
	}

	var queryID int64
	err = u.Cache.WithTx(ctx, func(tx *sql.Tx) error {
		rc, err := u.ResolveApply(ctx, tx, fetched.remote)
		if err != nil {
			return err
		}

		key := store.MyWorkItemsQueryKey(settings.OrganizationURL, settings.ProjectName)
		cachedQuery, err := u.Cache.UpsertQuery(ctx, tx, key, "My Work Items", rc.Identity.LoginID, rc.Project.ID)
		if err != nil {
			return err
		}
		queryID = cachedQuery.ID

		typeRows := make(map[string]*store.WorkItemType, len(fetched.types))
		for name, t := range fetched.types {
			wit, err := u.Cache.UpsertWorkItemType(ctx, tx, t.Name, t.Icon, t.Color, t.Description, rc.Project.ID)
			if err != nil {
				return err
			}
			typeRows[name] = wit
		}

		identityRows := make(map[string]*store.Identity, len(fetched.identities))
		for extID, ri := range fetched.identities {
			id, err := u.ApplyIdentity(ctx, tx, ri)
			if err != nil {
				return err
			}
			identityRows[extID] = id
		}

		for _, item := range fetched.items {
			wit := typeRows[item.TypeName]

			var assignedTo, createdBy, changedBy int64
			if item.AssignedToID != "" {
				assignedTo = identityRows[item.AssignedToID].ID
			}
			if item.CreatedByID != "" {
				createdBy = identityRows[item.CreatedByID].ID
			}
			if item.ChangedByID != "" {
				changedBy = identityRows[item.ChangedByID].ID
			}

			wi, err := u.Cache.UpsertWorkItem(ctx, tx, store.WorkItem{
				ExternalID:     item.ExternalID,
				Title:          item.Title,
				HTMLURL:        item.HTMLURL,
				State:          item.State,
				Reason:         item.Reason,
				AssignedToID:   assignedTo,
				CreatedDate:    store.TicksFromTime(item.CreatedDate),
				CreatedByID:    createdBy,
				ChangedDate:    store.TicksFromTime(item.ChangedDate),
				ChangedByID:    changedBy,
				WorkItemTypeID: wit.ID,
			})
			if err != nil {
				return err
			}
			if err := u.Cache.UpsertQueryWorkItem(ctx, tx, queryID, wi.ID); err != nil {
				return err
			}
		}

		if err := u.Cache.DeleteStaleQueryWorkItems(ctx, tx, queryID, start); err != nil {
			return err
		}
		return u.Cache.UpsertSearchSyncState(ctx, tx, params.Search.Key(), store.Now(), queryID)
	})
	return err
}

// fetchRemote performs every remote call UpdateData needs, entirely
// outside a cache transaction: run the fixed WIQL, fetch the matching work
// items one id at a time (mirroring the remote service's own per-id
// semantics for this synthesized query), then resolve their distinct
// types and identities.
func (u *Updater) fetchRemote(ctx context.Context, settings *store.ProjectSettings) (*fetchedMyWorkItems, error) {
	rr, err := u.ResolveRemote(ctx, settings.OrganizationURL+"/"+settings.ProjectName)
	if err != nil {
		return nil, err
	}

	ids, err := u.Client.RunWIQL(ctx, rr.Info.Organization, rr.Info.Project, store.MyWorkItemsWIQL)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "run wiql", err)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	var items []liveclient.RemoteWorkItem
	for _, id := range ids {
		got, err := u.Client.GetWorkItems(ctx, rr.Info.Organization, []int{id})
		if err != nil {
			continue // omit failures, same policy as QueryUpdater
		}
		items = append(items, got...)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	types := map[string]liveclient.RemoteWorkItemType{}
	identities := map[string]*updater.RemoteIdentity{}
	for _, item := range items {
		if _, ok := types[item.TypeName]; !ok {
			remote, err := u.Client.GetWorkItemType(ctx, rr.Info.Organization, rr.Info.Project, item.TypeName)
			if err != nil {
				if cerr := updater.CheckCancelled(ctx); cerr != nil {
					return nil, cerr
				}
				return nil, errs.Wrap(errs.RemoteError, "get work item type", err)
			}
			types[item.TypeName] = remote
		}

		for _, externalID := range [...]string{item.AssignedToID, item.CreatedByID, item.ChangedByID} {
			if externalID == "" {
				continue
			}
			if _, ok := identities[externalID]; ok {
				continue
			}
			ri, err := u.FetchIdentityRemote(ctx, rr.Info.Organization, externalID)
			if err != nil {
				return nil, err
			}
			identities[externalID] = ri
		}
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	return &fetchedMyWorkItems{remote: rr, items: items, types: types, identities: identities}, nil
}

// HasSynced reports whether this project's my-work-items search has ever
// completed a sync (spec §4.6 step 2: "look up the cached parent row").
func (u *Updater) HasSynced(ctx context.Context, settings store.ProjectSettings) (bool, error) {
	_, found, err := u.Cache.GetSearchSyncState(ctx, updater.NewMyWorkItemsSearch(settings).Key())
	return found, err
}

// GetCachedChildren returns the cached work items assigned to the current
// user for a project, ordered per the same tie-break rule as QueryUpdater.
func (u *Updater) GetCachedChildren(ctx context.Context, settings store.ProjectSettings) ([]store.WorkItem, error) {
	state, found, err := u.Cache.GetSearchSyncState(ctx, updater.NewMyWorkItemsSearch(settings).Key())
	if err != nil || !found {
		return nil, err
	}
	return u.Cache.GetQueryWorkItemsOrdered(ctx, state.RefID)
}

// IsNewOrStale reports whether this project's my-work-items search has
// never synced or its last sync predates cooldown.
func (u *Updater) IsNewOrStale(ctx context.Context, s updater.Search, cooldown time.Duration) (bool, error) {
	last, found, err := u.Cache.GetSearchSyncState(ctx, s.Key())
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return store.Now().Time().Sub(last.TimeUpdated.Time()) >= cooldown, nil
}

// PruneObsoleteData removes join rows older than the short my-work-items TTL.
func (u *Updater) PruneObsoleteData(ctx context.Context) error {
	if err := u.Cache.PruneTTL(ctx, store.PruneConfig{
		MyWorkItemsQueryWorkItemTTL: TTL,
	}); err != nil {
		return err
	}
	return u.Cache.PruneOrphans(ctx)
}

// DiscoverSearches builds the set of my-work-items searches to run: one
// per explicitly configured ProjectSettings row, plus — per spec §9 Open
// Question 3 (resolved: kept, but logged) — one per distinct (org,
// project) pair implied by any other configured search definition that
// has no corresponding ProjectSettings row.
func (u *Updater) DiscoverSearches(ctx context.Context) ([]updater.Search, error) {
	explicit, err := u.Persistent.GetAllProjectSettings(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(explicit))
	searches := make([]updater.Search, 0, len(explicit))
	for _, s := range explicit {
		seen[dedupKey(s.OrganizationURL, s.ProjectName)] = true
		searches = append(searches, updater.NewMyWorkItemsSearch(s))
	}

	for _, pair := range u.distinctProjectPairsFromOtherSearches(ctx) {
		key := dedupKey(pair.org, pair.project)
		if seen[key] {
			continue
		}
		seen[key] = true
		u.Logger.Info("synthesizing my-work-items search from an unrelated saved search",
			"organization", pair.org, "project", pair.project)
		searches = append(searches, updater.NewMyWorkItemsSearch(store.ProjectSettings{
			OrganizationURL: pair.org,
			ProjectName:     pair.project,
		}))
	}
	return searches, nil
}

// dedupKey builds a case-insensitive {org}|{project} key (spec §4.3: the
// synthesized search set is deduplicated case-insensitively).
func dedupKey(org, project string) string {
	return strings.ToLower(org) + "|" + strings.ToLower(project)
}

type projectPair struct{ org, project string }

func (u *Updater) distinctProjectPairsFromOtherSearches(ctx context.Context) []projectPair {
	var urls []string
	if defs, err := u.Persistent.GetAllQueryDefs(ctx, false); err == nil {
		for _, d := range defs {
			urls = append(urls, d.URL)
		}
	}
	if defs, err := u.Persistent.GetAllPullRequestSearchDefs(ctx, false); err == nil {
		for _, d := range defs {
			urls = append(urls, d.URL)
		}
	}
	if defs, err := u.Persistent.GetAllDefinitionSearchDefs(ctx, false); err == nil {
		for _, d := range defs {
			urls = append(urls, d.URL)
		}
	}

	seen := map[string]bool{}
	var pairs []projectPair
	for _, raw := range urls {
		info, err := validate.Parse(raw)
		if err != nil {
			continue
		}
		// Pairs carry the organization URL, the same form ProjectSettings rows hold.
		orgURL := "https://dev.azure.com/" + info.Organization
		if info.Kind == validate.HostVisualStudio {
			orgURL = "https://" + info.Organization + ".visualstudio.com"
		}
		key := dedupKey(orgURL, info.Project)
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, projectPair{org: orgURL, project: info.Project})
	}
	return pairs
}
