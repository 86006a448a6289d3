package updater

import (
	"context"

	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/validate"
)

// Base bundles the collaborators every per-kind updater needs (spec §4.3
// generic algorithm steps 1-2: "resolve the authenticated identity and
// obtain a connection", "locate or create the parent rows"). Concrete
// updaters embed Base and add their own kind-specific fetch/diff logic.
type Base struct {
	Cache       *store.CacheStore
	Persistent  *store.PersistentStore
	Client      liveclient.Client
	Accounts    account.Provider
	Connections account.ConnectionProvider
}

// ResolvedRemote carries the remote leg of the generic algorithm's steps
// 1-2 (authenticate, connect, fetch the remote project) gathered before any
// cache row is read or written, so a slow or unreachable remote never holds
// a cache write transaction open (spec §9 "Transactions"). Pair it with
// ResolveApply, called inside WithTx, to persist the result.
type ResolvedRemote struct {
	Identity      account.Identity
	Conn          account.Connection
	Info          validate.Info
	OrgURI        string
	RemoteProject liveclient.RemoteProject
}

// ResolvedContext carries everything a sync cycle needs once the
// Organization/Project parent rows have been located or created.
type ResolvedContext struct {
	Identity account.Identity
	Conn     account.Connection
	Info     validate.Info
	Org      *store.Organization
	Project  *store.Project
}

// ResolveRemote performs the remote leg of steps 1-2 of the generic Updater
// algorithm for a given definition url: authenticate, connect, and fetch
// the remote project. It issues no cache writes, so callers are free to run
// it before opening a transaction.
func (b *Base) ResolveRemote(ctx context.Context, rawURL string) (*ResolvedRemote, error) {
	if !b.Accounts.IsSignedIn(ctx) {
		return nil, errs.New(errs.RemoteError, "not signed in")
	}
	identity, err := b.Accounts.GetDefaultAccount(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.RemoteError, "get default account", err)
	}

	info, err := validate.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	orgURI := "https://" + hostFor(info)
	conn, err := b.Connections.GetConnection(ctx, orgURI, identity.LoginID)
	if err != nil {
		return nil, errs.Wrap(errs.RemoteError, "get connection", err)
	}
	if err := CheckCancelled(ctx); err != nil {
		return nil, err
	}

	remoteProject, err := b.Client.GetProject(ctx, info.Organization, info.Project)
	if err != nil {
		if cerr := CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get project", err)
	}

	return &ResolvedRemote{Identity: identity, Conn: conn, Info: info, OrgURI: orgURI, RemoteProject: remoteProject}, nil
}

// ResolveApply persists the Organization/Project rows for an already
// resolved remote leg, inside tx. It is the first call an Updater makes
// once it has everything it needs from the remote and opens its
// cache-diff/apply transaction.
func (b *Base) ResolveApply(ctx context.Context, tx store.DBTX, rr *ResolvedRemote) (*ResolvedContext, error) {
	org, err := b.Cache.UpsertOrganization(ctx, tx, rr.Info.Organization, rr.OrgURI)
	if err != nil {
		return nil, err
	}
	proj, err := b.Cache.UpsertProject(ctx, tx, rr.RemoteProject.Name, rr.RemoteProject.ExternalID, rr.RemoteProject.Description, org.ID)
	if err != nil {
		return nil, err
	}
	return &ResolvedContext{Identity: rr.Identity, Conn: rr.Conn, Info: rr.Info, Org: org, Project: proj}, nil
}

func hostFor(info validate.Info) string {
	if info.Kind == validate.HostVisualStudio {
		return info.Organization + ".visualstudio.com"
	}
	return "dev.azure.com/" + info.Organization
}

// RemoteIdentity carries either a cache hit (no remote call was needed) or
// a freshly fetched remote identity, ready to be applied inside a
// transaction by ApplyIdentity.
type RemoteIdentity struct {
	cached *store.Identity
	remote liveclient.RemoteIdentity
	avatar []byte
}

// FetchIdentityRemote resolves one identity without writing to the cache.
// A cache hit (read against the pooled connection, not a write tx) short
// circuits before any remote call is made; otherwise it fetches the
// identity and, best-effort, an avatar.
func (b *Base) FetchIdentityRemote(ctx context.Context, org, externalID string) (*RemoteIdentity, error) {
	if externalID == "" {
		return nil, errs.New(errs.InternalInvariant, "empty identity external id")
	}
	if existing, err := b.Cache.GetIdentityByExternalID(ctx, b.Cache.DB(), externalID); err == nil {
		return &RemoteIdentity{cached: existing}, nil
	}
	remote, err := b.Client.GetIdentity(ctx, org, externalID)
	if err != nil {
		if cerr := CheckCancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, errs.Wrap(errs.RemoteError, "get identity", err)
	}
	var avatar []byte
	if blob, err := b.Client.GetAvatar(ctx, org, externalID); err == nil {
		avatar = blob
	}
	return &RemoteIdentity{remote: remote, avatar: avatar}, nil
}

// ApplyIdentity persists a previously fetched RemoteIdentity inside tx. A
// cache hit from FetchIdentityRemote is returned as-is with no write.
func (b *Base) ApplyIdentity(ctx context.Context, tx store.DBTX, ri *RemoteIdentity) (*store.Identity, error) {
	if ri.cached != nil {
		return ri.cached, nil
	}
	return b.Cache.UpsertIdentity(ctx, tx, ri.remote.Name, ri.remote.ExternalID, ri.avatar, ri.remote.LoginID)
}

// CheckCancelled reports ctx's cancellation as errs.Cancelled so a sync
// aborted mid-flight surfaces a Cancel event (spec §5/§7/§8) instead of
// being folded into a generic remote error.
func CheckCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "update cancelled", ctx.Err())
	default:
		return nil
	}
}
