// Package query implements the QueryUpdater (spec §4.3): work-item query
// searches, batched work-item fetches, and the UI tie-break ordering.
package query

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

const (
	// DefaultBatchSize is the work-item fetch chunk size (spec §4.3 "200 ids per request").
	DefaultBatchSize = 200
	// DefaultTTL is the join-table retention for saved queries (spec §6 queryWorkItemTTL).
	DefaultTTL = 7 * 24 * time.Hour
)

// Updater implements the per-kind sync for saved work-item queries.
type Updater struct {
	updater.Base
	BatchSize int
	TTL       time.Duration
}

// New constructs a QueryUpdater with the spec's default knobs.
func New(base updater.Base) *Updater {
	return &Updater{Base: base, BatchSize: DefaultBatchSize, TTL: DefaultTTL}
}

// fetchedQuery holds everything UpdateData needs from the remote side,
// gathered before any cache write transaction is opened (spec §9
// "Transactions").
type fetchedQuery struct {
	remote     *updater.ResolvedRemote
	query      liveclient.RemoteWorkItemQuery
	items      []liveclient.RemoteWorkItem
	types      map[string]liveclient.RemoteWorkItemType // key: lowercased type name
	identities map[string]*updater.RemoteIdentity       // key: identity external id
}

// UpdateData runs the generic sync algorithm for one saved query definition.
func (u *Updater) UpdateData(ctx context.Context, params updater.UpdateParams) error {
	def := params.Search.Query
	if def == nil {
		return errs.New(errs.InternalInvariant, "query updater received non-query search")
	}

	start := store.Now()

	fetched, err := u.fetchRemote(ctx, def)
	if err != nil {
		return err
	}

	var queryID int64
	err = u.Cache.WithTx(ctx, func(tx *sql.Tx) error {
		rc, err := u.ResolveApply(ctx, tx, fetched.remote)
		if err != nil {
			return err
		}

		cachedQuery, err := u.Cache.UpsertQuery(ctx, tx, fetched.query.ExternalID, fetched.query.Name, rc.Identity.LoginID, rc.Project.ID)
		if err != nil {
			return err
		}
		queryID = cachedQuery.ID

		typeRows := make(map[string]*store.WorkItemType, len(fetched.types))
		for key, t := range fetched.types {
			wit, err := u.Cache.UpsertWorkItemType(ctx, tx, t.Name, t.Icon, t.Color, t.Description, rc.Project.ID)
			if err != nil {
				return err
			}
			typeRows[key] = wit
		}

		identityRows := make(map[string]*store.Identity, len(fetched.identities))
		for key, ri := range fetched.identities {
			id, err := u.ApplyIdentity(ctx, tx, ri)
			if err != nil {
				return err
			}
			identityRows[key] = id
		}

		for _, item := range fetched.items {
			wit := typeRows[strings.ToLower(item.TypeName)]

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
// outside a cache transaction: resolve the query, run the WIQL, batch-fetch
// the matching work items, then resolve their distinct types and
// identities.
func (u *Updater) fetchRemote(ctx context.Context, def *store.QueryDef) (*fetchedQuery, error) {
	rr, err := u.ResolveRemote(ctx, def.URL)
	if err != nil {
		return nil, err
	}

	remoteQuery, err := u.Client.GetWorkItemQuery(ctx, rr.Info.Organization, rr.Info.Project, rr.Info.SubResource)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get work item query", err)
	}
	if remoteQuery.Kind == liveclient.QueryTemporary {
		return nil, errs.New(errs.Unsupported, "temporary queries are not supported")
	}

	ids, err := u.Client.RunWIQL(ctx, rr.Info.Organization, rr.Info.Project, remoteQuery.WIQL)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "run wiql", err)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	items, err := u.fetchWorkItemsBatched(ctx, rr.Info.Organization, ids)
	if err != nil {
		return nil, err
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	types := map[string]liveclient.RemoteWorkItemType{}
	identities := map[string]*updater.RemoteIdentity{}
	for _, item := range items {
		typeKey := strings.ToLower(item.TypeName)
		if _, ok := types[typeKey]; !ok {
			wit, err := u.Client.GetWorkItemType(ctx, rr.Info.Organization, rr.Info.Project, item.TypeName)
			if err != nil {
				if cerr := updater.CheckCancelled(ctx); cerr != nil {
					return nil, cerr
				}
				return nil, errs.Wrap(errs.RemoteError, "get work item type", err)
			}
			types[typeKey] = wit
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

	return &fetchedQuery{remote: rr, query: remoteQuery, items: items, types: types, identities: identities}, nil
}

// fetchWorkItemsBatched issues one concurrent request per BatchSize-sized
// chunk of ids, per spec §4.3 "chunks are issued concurrently, awaited
// with all". A chunk that errors is omitted rather than failing the whole
// sync (spec: "Error policy = omit failures so a bad id does not fail the
// batch").
func (u *Updater) fetchWorkItemsBatched(ctx context.Context, org string, ids []int) ([]liveclient.RemoteWorkItem, error) {
	chunks := chunkInts(ids, u.BatchSize)
	results := make([][]liveclient.RemoteWorkItem, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			items, err := u.Client.GetWorkItems(gctx, org, chunk)
			if err != nil {
				return nil // omit failures: a failed chunk contributes no rows
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Wrap(errs.RemoteError, "fetch work items", err)
	}

	var all []liveclient.RemoteWorkItem
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// IsNewOrStale reports whether this query has never synced or its last
// sync predates cooldown.
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

// PruneObsoleteData removes join rows for this kind older than TTL, then
// orphaned work items (spec §4.3.1: TTL prune before orphan prune).
func (u *Updater) PruneObsoleteData(ctx context.Context) error {
	if err := u.Cache.PruneTTL(ctx, store.PruneConfig{
		BuildRetention:              0, // not this updater's concern; the pipeline updater's pass prunes builds
		QueryWorkItemTTL:            u.TTL,
		MyWorkItemsQueryWorkItemTTL: u.TTL, // irrelevant here: no my-work-items rows owned by this updater
	}); err != nil {
		return err
	}
	return u.Cache.PruneOrphans(ctx)
}

// GetCachedDataForSearch resolves the cached Query row for a definition, if
// it has ever synced (spec §4.3 getCachedDataForSearch).
func (u *Updater) GetCachedDataForSearch(ctx context.Context, def store.QueryDef) (*store.Query, bool, error) {
	state, found, err := u.Cache.GetSearchSyncState(ctx, updater.NewQuerySearch(def).Key())
	if err != nil || !found {
		return nil, false, err
	}
	q, err := u.Cache.GetQueryByRowID(ctx, state.RefID)
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

// GetCachedChildren returns the cached work items for a query, ordered per
// the UI tie-break rule (spec §4.3).
func (u *Updater) GetCachedChildren(ctx context.Context, def store.QueryDef) ([]store.WorkItem, error) {
	q, found, err := u.GetCachedDataForSearch(ctx, def)
	if err != nil || !found {
		return nil, err
	}
	return u.Cache.GetQueryWorkItemsOrdered(ctx, q.ID)
}

func chunkInts(ids []int, size int) [][]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]int
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
