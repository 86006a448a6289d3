// Package pullrequest implements the PullRequestUpdater (spec §4.3): one
// search per (repository, view, username), server-side filtered, with a
// policy-evaluation rollup per pull request.
package pullrequest

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

// DefaultTTL is the join-table retention for PR searches (spec §6).
const DefaultTTL = 24 * time.Hour

// severityOverride lets an operator reweight policy severities without a
// code change, loaded from an optional policy.toml (grounded on the
// teacher's internal/storage/config.go YAML-config pattern, swapped to
// TOML here since this is a narrow single-purpose override file rather
// than the full app config).
type severityOverride struct {
	Severity map[string]int `toml:"severity"`
}

// LoadSeverityOverride reads policy.toml if present; a missing file is not
// an error, it just means the built-in WorstPolicyStatus ranking applies.
func LoadSeverityOverride(path string) (map[string]int, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var cfg severityOverride
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errs.Wrap(errs.Validation, "decode policy.toml", err)
	}
	return cfg.Severity, nil
}

// Updater implements the per-kind sync for pull-request searches.
type Updater struct {
	updater.Base
	TTL time.Duration
	// SeverityOverride optionally reweights policy status severity before
	// reducing a PR's evaluations with store.WorstPolicyStatus; nil uses
	// the built-in ranking.
	SeverityOverride map[string]int
}

// New constructs a PullRequestUpdater with the spec's default TTL.
func New(base updater.Base) *Updater {
	return &Updater{Base: base, TTL: DefaultTTL}
}

// fetchedPR holds everything UpdateData needs from the remote side,
// gathered before any cache write transaction is opened (spec §9
// "Transactions").
type fetchedPR struct {
	remote     *updater.ResolvedRemote
	repo       liveclient.RemoteRepository
	prs        []liveclient.RemotePullRequest
	policy     map[int]policyResult // keyed by PR external id
	identities map[string]*updater.RemoteIdentity
}

type policyResult struct {
	status store.PolicyStatus
	reason string
}

// UpdateData runs the generic sync algorithm for one PR search definition.
func (u *Updater) UpdateData(ctx context.Context, params updater.UpdateParams) error {
	def := params.Search.PullRequest
	if def == nil {
		return errs.New(errs.InternalInvariant, "pull request updater received non-pr search")
	}

	start := store.Now()

	fetched, err := u.fetchRemote(ctx, def)
	if err != nil {
		return err
	}

	var searchID int64
	err = u.Cache.WithTx(ctx, func(tx *sql.Tx) error {
		rc, err := u.ResolveApply(ctx, tx, fetched.remote)
		if err != nil {
			return err
		}

		cachedRepo, err := u.Cache.UpsertRepository(ctx, tx, fetched.repo.Name, fetched.repo.ExternalID, rc.Project.ID, fetched.repo.CloneURL, fetched.repo.IsPrivate)
		if err != nil {
			return err
		}

		search, err := u.Cache.UpsertPullRequestSearch(ctx, tx, rc.Project.ID, cachedRepo.ID, rc.Identity.LoginID, string(def.View))
		if err != nil {
			return err
		}
		searchID = search.ID

		identityRows := make(map[string]*store.Identity, len(fetched.identities))
		for key, ri := range fetched.identities {
			id, err := u.ApplyIdentity(ctx, tx, ri)
			if err != nil {
				return err
			}
			identityRows[key] = id
		}

		for _, remotePR := range fetched.prs {
			var creator int64
			if remotePR.CreatorID != "" {
				creator = identityRows[remotePR.CreatorID].ID
			}
			pol := fetched.policy[remotePR.ExternalID]

			pr, err := u.Cache.UpsertPullRequest(ctx, tx, store.PullRequest{
				ExternalID:         remotePR.ExternalID,
				Title:              remotePR.Title,
				URL:                remotePR.URL,
				RepositoryID:       cachedRepo.ID,
				CreatorID:          creator,
				Status:             remotePR.Status,
				PolicyStatus:       pol.status,
				PolicyStatusReason: pol.reason,
				TargetBranch:       remotePR.TargetBranch,
				CreationDate:       store.TicksFromTime(remotePR.CreationDate),
				HTMLURL:            remotePR.HTMLURL,
			})
			if err != nil {
				return err
			}
			if err := u.Cache.UpsertPullRequestSearchPullRequest(ctx, tx, searchID, pr.ID); err != nil {
				return err
			}
		}

		if err := u.Cache.DeleteStalePullRequestSearchPullRequests(ctx, tx, searchID, start); err != nil {
			return err
		}
		return u.Cache.UpsertSearchSyncState(ctx, tx, params.Search.Key(), store.Now(), searchID)
	})
	return err
}

// fetchRemote performs every remote call UpdateData needs, entirely
// outside a cache transaction: resolve the repository, list matching pull
// requests, then reduce each one's policy evaluations and resolve its
// creator identity.
func (u *Updater) fetchRemote(ctx context.Context, def *store.PullRequestSearchDef) (*fetchedPR, error) {
	rr, err := u.ResolveRemote(ctx, def.URL)
	if err != nil {
		return nil, err
	}

	repo, err := u.Client.GetRepository(ctx, rr.Info.Organization, rr.Info.Project, rr.Info.SubResource)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get repository", err)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	filter := filterFor(def.View, rr.Identity.LoginID)
	remotePRs, err := u.Client.GetPullRequests(ctx, rr.Info.Organization, rr.Info.Project, repo.ExternalID, filter)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get pull requests", err)
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	policy := make(map[int]policyResult, len(remotePRs))
	identities := map[string]*updater.RemoteIdentity{}
	for _, pr := range remotePRs {
		status, reason, err := u.reducePolicyStatus(ctx, rr.Info.Organization, rr.Info.Project, pr.ExternalID)
		if err != nil {
			return nil, err
		}
		policy[pr.ExternalID] = policyResult{status: status, reason: reason}

		if pr.CreatorID == "" {
			continue
		}
		if _, ok := identities[pr.CreatorID]; ok {
			continue
		}
		ri, err := u.FetchIdentityRemote(ctx, rr.Info.Organization, pr.CreatorID)
		if err != nil {
			return nil, err
		}
		identities[pr.CreatorID] = ri
	}
	if err := updater.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	return &fetchedPR{remote: rr, repo: repo, prs: remotePRs, policy: policy, identities: identities}, nil
}

// GetCachedDataForSearch resolves the cached PullRequestSearch row for a
// definition, if it has ever synced (spec §4.3 getCachedDataForSearch).
func (u *Updater) GetCachedDataForSearch(ctx context.Context, def store.PullRequestSearchDef) (*store.PullRequestSearch, bool, error) {
	state, found, err := u.Cache.GetSearchSyncState(ctx, updater.NewPullRequestSearch(def).Key())
	if err != nil || !found {
		return nil, false, err
	}
	s, err := u.Cache.GetPullRequestSearchByRowID(ctx, state.RefID)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// GetCachedChildren returns the cached pull requests for a search, ordered
// by creation date descending then join time descending (spec §4.3).
func (u *Updater) GetCachedChildren(ctx context.Context, def store.PullRequestSearchDef) ([]store.PullRequest, error) {
	s, found, err := u.GetCachedDataForSearch(ctx, def)
	if err != nil || !found {
		return nil, err
	}
	return u.Cache.GetPullRequestSearchPullRequestsOrdered(ctx, s.ID)
}

func filterFor(view store.PullRequestSearchView, loginID string) liveclient.PullRequestFilter {
	switch view {
	case store.ViewMine:
		return liveclient.PullRequestFilter{CreatorID: loginID}
	case store.ViewAssigned:
		return liveclient.PullRequestFilter{ReviewerID: loginID}
	default: // ViewAll: no server-side filter
		return liveclient.PullRequestFilter{}
	}
}

// reducePolicyStatus fetches all policy evaluations for a PR and reduces
// them to the single worst status, per spec §4.3 "a PR's policy status is
// the worst of its evaluations".
func (u *Updater) reducePolicyStatus(ctx context.Context, org, project string, prExternalID int) (store.PolicyStatus, string, error) {
	evals, err := u.Client.GetPolicyEvaluations(ctx, org, project, prExternalID)
	if err != nil {
		if cerr := updater.CheckCancelled(ctx); cerr != nil {
			return "", "", cerr
		}
		return "", "", errs.Wrap(errs.RemoteError, "get policy evaluations", err)
	}
	var worst store.PolicyStatus
	var reason string
	for _, e := range evals {
		status := store.PolicyStatus(e.Status)
		if worst == "" || u.isMoreSevere(status, worst) {
			worst, reason = status, e.Reason
		}
	}
	return worst, reason, nil
}

func (u *Updater) isMoreSevere(a, b store.PolicyStatus) bool {
	if u.SeverityOverride == nil {
		return store.WorstPolicyStatus(a, b) == a && a != b
	}
	ra, aok := u.SeverityOverride[string(a)]
	rb, bok := u.SeverityOverride[string(b)]
	if !aok || !bok {
		return store.WorstPolicyStatus(a, b) == a && a != b
	}
	return ra < rb
}

// IsNewOrStale reports whether this search has never synced or its last
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

// PruneObsoleteData removes join rows older than TTL, then orphaned pull requests.
func (u *Updater) PruneObsoleteData(ctx context.Context) error {
	if err := u.Cache.PruneTTL(ctx, store.PruneConfig{
		PullRequestSearchPullRequestTTL: u.TTL,
	}); err != nil {
		return err
	}
	return u.Cache.PruneOrphans(ctx)
}
