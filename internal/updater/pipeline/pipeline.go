// Package pipeline implements the PipelineUpdater (spec §4.3): a pipeline
// definition's metadata is rate-limited while its builds always refresh.
package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

// DefaultDefinitionThrottle is how rarely a cached definition row is
// overwritten with the metadata fetched on each sync: definitions change
// names/descriptions rarely,
// unlike their builds (spec §4.3 "definition refresh throttle").
const DefaultDefinitionThrottle = 4 * time.Hour

// DefaultBuildRetention is how long a build row survives after it was last
// written by a sync (its time_updated), whatever its position among its
// definition's builds (spec §6: buildRetention = 7d).
const DefaultBuildRetention = 7 * 24 * time.Hour

// Updater implements the per-kind sync for pipeline-definition searches.
type Updater struct {
	updater.Base
	DefinitionThrottle time.Duration
	BuildRetention     time.Duration
}

// New constructs a PipelineUpdater with the spec's default knobs.
func New(base updater.Base) *Updater {
	return &Updater{Base: base, DefinitionThrottle: DefaultDefinitionThrottle, BuildRetention: DefaultBuildRetention}
}

// fetchedPipeline holds everything UpdateData needs from the remote side,
// gathered before any cache write transaction is opened (spec §9
// "Transactions").
type fetchedPipeline struct {
	remote     *updater.ResolvedRemote
	def        liveclient.RemoteDefinition
	builds     []liveclient.RemoteBuild
	identities map[string]*updater.RemoteIdentity
}

// UpdateData runs the generic sync algorithm for one pipeline search definition.
func (u *Updater) UpdateData(ctx context.Context, params updater.UpdateParams) error {
	def := params.Search.Pipeline
	if def == nil {
		return errs.New(errs.InternalInvariant, "pipeline updater received non-pipeline search")
	}

	fetched, err := u.fetchRemote(ctx, def)
	if err != nil {
		return err
	}

	err = u.Cache.WithTx(ctx, func(tx *sql.Tx) error {
		rc, err := u.ResolveApply(ctx, tx, fetched.remote)
		if err != nil {
			return err
		}

		cachedDef, err := u.Cache.UpsertDefinitionRateLimited(ctx, tx, fetched.def.ExternalID, fetched.def.Name,
			rc.Project.ID, store.TicksFromTime(fetched.def.CreationDate), fetched.def.HTMLURL, u.DefinitionThrottle)
		if err != nil {
			return err
		}

		identityRows := make(map[string]*store.Identity, len(fetched.identities))
		for key, ri := range fetched.identities {
			id, err := u.ApplyIdentity(ctx, tx, ri)
			if err != nil {
				return err
			}
			identityRows[key] = id
		}

		for _, rb := range fetched.builds {
			var requester int64
			if rb.RequesterID != "" {
				requester = identityRows[rb.RequesterID].ID
			}
			if _, err := u.Cache.UpsertBuild(ctx, tx, store.Build{
				ExternalID:     rb.ExternalID,
				BuildNumber:    rb.BuildNumber,
				Status:         rb.Status,
				Result:         rb.Result,
				QueueTime:      store.TicksFromTime(rb.QueueTime),
				StartTime:      store.TicksFromTime(rb.StartTime),
				FinishTime:     store.TicksFromTime(rb.FinishTime),
				URL:            rb.URL,
				DefinitionID:   cachedDef.ID,
				SourceBranch:   rb.SourceBranch,
				TriggerMessage: rb.TriggerMessage,
				RequesterID:    requester,
			}); err != nil {
				return err
			}
		}

		return u.Cache.UpsertSearchSyncState(ctx, tx, params.Search.Key(), store.Now(), cachedDef.ID)
	})
	return err
}

// fetchRemote performs every remote call UpdateData needs, entirely
// outside a cache transaction: resolve the definition's metadata, list its
// builds, then resolve each build's distinct requester identity.
func (u *Updater) fetchRemote(ctx context.Context, def *store.DefinitionSearchDef) (*fetchedPipeline, error) {
	rr, err := u.ResolveRemote(ctx, def.URL)
	if err != nil {
		return nil, err
	}

	remoteDef, err := u.Client.GetBuildDefinition(ctx, rr.Info.Organization, rr.Info.Project, def.ExternalID)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get build definition", err)
	}

	remoteBuilds, err := u.Client.GetBuilds(ctx, rr.Info.Organization, rr.Info.Project, def.ExternalID)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get builds", err)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	identities := map[string]*updater.RemoteIdentity{}
	for _, rb := range remoteBuilds {
		if rb.RequesterID == "" {
			continue
		}
		if _, ok := identities[rb.RequesterID]; ok {
			continue
		}
		ri, err := u.FetchIdentityRemote(ctx, rr.Info.Organization, rb.RequesterID)
		if err != nil {
			return nil, err
		}
		identities[rb.RequesterID] = ri
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	return &fetchedPipeline{remote: rr, def: remoteDef, builds: remoteBuilds, identities: identities}, nil
}

// GetCachedDataForSearch resolves the cached Definition row for a
// definition, if it has ever synced (spec §4.3 getCachedDataForSearch).
func (u *Updater) GetCachedDataForSearch(ctx context.Context, def store.DefinitionSearchDef) (*store.Definition, bool, error) {
	state, found, err := u.Cache.GetSearchSyncState(ctx, updater.NewPipelineSearch(def).Key())
	if err != nil || !found {
		return nil, false, err
	}
	d, err := u.Cache.GetDefinitionByRowID(ctx, state.RefID)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// GetCachedChildren returns the cached builds for a pipeline definition,
// ordered by queue time descending (spec §4.3 PipelineUpdater).
func (u *Updater) GetCachedChildren(ctx context.Context, def store.DefinitionSearchDef) ([]store.Build, error) {
	d, found, err := u.GetCachedDataForSearch(ctx, def)
	if err != nil || !found {
		return nil, err
	}
	return u.Cache.GetBuildsForDefinitionOrdered(ctx, d.ID)
}

// IsNewOrStale reports whether this search has never synced or its last
// sync predates cooldown. Note this governs the build-list refresh cycle,
// not the definition metadata throttle, which is independent and applied
// inside UpdateData itself.
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

// PruneObsoleteData trims builds past retention, then orphaned definitions.
func (u *Updater) PruneObsoleteData(ctx context.Context) error {
	if err := u.Cache.PruneTTL(ctx, store.PruneConfig{BuildRetention: u.BuildRetention}); err != nil {
		return err
	}
	return u.Cache.PruneOrphans(ctx)
}
