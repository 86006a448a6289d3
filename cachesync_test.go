package cachesync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/cachemanager"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
)

// fakeClient is a minimal liveclient.Client stand-in with one project, one
// saved query returning one work item, and empty pull-request/pipeline data.
type fakeClient struct{}

func (fakeClient) GetProject(ctx context.Context, org, project string) (liveclient.RemoteProject, error) {
	return liveclient.RemoteProject{ExternalID: "proj-1", Name: project, Description: "a project"}, nil
}

func (fakeClient) GetIdentity(ctx context.Context, org, externalID string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{ExternalID: externalID, Name: "Ada Lovelace", LoginID: "ada"}, nil
}

func (fakeClient) GetCurrentIdentity(ctx context.Context, org string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{ExternalID: "me-1", Name: "Ada Lovelace", LoginID: "ada"}, nil
}

func (fakeClient) GetAvatar(ctx context.Context, org, identityExternalID string) ([]byte, error) {
	return nil, nil
}

func (fakeClient) GetWorkItemQuery(ctx context.Context, org, project, queryExternalID string) (liveclient.RemoteWorkItemQuery, error) {
	return liveclient.RemoteWorkItemQuery{ExternalID: "q-1", Name: "My Query", Kind: liveclient.QueryFlat, WIQL: "select 1"}, nil
}

func (fakeClient) RunWIQL(ctx context.Context, org, project, wiql string) ([]int, error) {
	return []int{42}, nil
}

func (fakeClient) GetWorkItems(ctx context.Context, org string, ids []int) ([]liveclient.RemoteWorkItem, error) {
	out := make([]liveclient.RemoteWorkItem, len(ids))
	for i, id := range ids {
		out[i] = liveclient.RemoteWorkItem{ExternalID: id, Title: "A work item", State: "Active", TypeName: "Bug"}
	}
	return out, nil
}

func (fakeClient) GetWorkItemType(ctx context.Context, org, project, name string) (liveclient.RemoteWorkItemType, error) {
	return liveclient.RemoteWorkItemType{Name: name, Icon: "bug.png", Color: "#ff0000"}, nil
}

func (fakeClient) GetRepository(ctx context.Context, org, project, repoExternalID string) (liveclient.RemoteRepository, error) {
	return liveclient.RemoteRepository{ExternalID: repoExternalID, Name: "repo"}, nil
}

func (fakeClient) GetPullRequests(ctx context.Context, org, project, repoExternalID string, filter liveclient.PullRequestFilter) ([]liveclient.RemotePullRequest, error) {
	return nil, nil
}

func (fakeClient) GetPolicyEvaluations(ctx context.Context, org, project string, pullRequestExternalID int) ([]liveclient.RemotePolicyEvaluation, error) {
	return nil, nil
}

func (fakeClient) GetBuildDefinition(ctx context.Context, org, project string, definitionExternalID int) (liveclient.RemoteDefinition, error) {
	return liveclient.RemoteDefinition{ExternalID: definitionExternalID, Name: "CI"}, nil
}

func (fakeClient) GetBuilds(ctx context.Context, org, project string, definitionExternalID int) ([]liveclient.RemoteBuild, error) {
	return nil, nil
}

// fakeAccounts is a signed-in-by-default account.Provider.
type fakeAccounts struct{ signedIn bool }

func newFakeAccounts() *fakeAccounts { return &fakeAccounts{signedIn: true} }

func (f *fakeAccounts) IsSignedIn(ctx context.Context) bool { return f.signedIn }

func (f *fakeAccounts) GetDefaultAccount(ctx context.Context) (account.Identity, error) {
	return account.Identity{LoginID: "ada", Name: "Ada Lovelace"}, nil
}

func (f *fakeAccounts) SignIn(ctx context.Context) error { f.signedIn = true; return nil }
func (f *fakeAccounts) SignOut(ctx context.Context) error { f.signedIn = false; return nil }

// fakeConnections hands back a static connection for any org/account pair.
type fakeConnections struct{}

func (fakeConnections) GetConnection(ctx context.Context, orgURI, acct string) (account.Connection, error) {
	return account.Connection{OrganizationURI: orgURI, Account: acct}, nil
}

func newTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.CachePath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Database.PersistentPath = filepath.Join(t.TempDir(), "searches.db")

	c, err := Open(context.Background(), cfg, fakeClient{}, newFakeAccounts(), fakeConnections{}, "ada")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, func() { c.Close() }
}

func TestOpenAndClose(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	if c.Manager == nil {
		t.Fatal("Manager is nil")
	}
	if c.Live == nil {
		t.Fatal("Live is nil")
	}
	if c.Queries == nil || c.PullRequests == nil || c.Pipelines == nil || c.Projects == nil {
		t.Fatal("expected all four repositories to be wired")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Timing.PeriodicInterval != DefaultConfig().Timing.PeriodicInterval {
		t.Errorf("expected default periodic interval, got %v", cfg.Timing.PeriodicInterval)
	}
}

func TestQueryDefRepositoryRejectsBadURL(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	_, err := c.Queries.AddOrUpdate(context.Background(), store.QueryDef{Name: "bad", URL: "not a url at all ::"})
	if err == nil {
		t.Fatal("expected validation error for malformed url")
	}
}

func TestGetQueryWorkItemsColdRead(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	def, err := c.Queries.AddOrUpdate(context.Background(), store.QueryDef{
		Name: "My Query",
		URL:  "https://dev.azure.com/myorg/myproject/_queries/query/q-1",
	})
	if err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}

	items, err := c.GetQueryWorkItems(context.Background(), *def)
	if err != nil {
		t.Fatalf("GetQueryWorkItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 work item, got %d", len(items))
	}
	if items[0].Title != "A work item" {
		t.Errorf("work item title: got %q", items[0].Title)
	}

	// A second, warm read should return the same cached row without blocking.
	items2, err := c.GetQueryWorkItems(context.Background(), *def)
	if err != nil {
		t.Fatalf("GetQueryWorkItems (warm): %v", err)
	}
	if len(items2) != 1 {
		t.Fatalf("expected 1 cached work item, got %d", len(items2))
	}
}

func TestSignOutClearsCache(t *testing.T) {
	c, cleanup := newTestClient(t)
	defer cleanup()

	def, err := c.Queries.AddOrUpdate(context.Background(), store.QueryDef{
		Name: "My Query",
		URL:  "https://dev.azure.com/myorg/myproject/_queries/query/q-1",
	})
	if err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if _, err := c.GetQueryWorkItems(context.Background(), *def); err != nil {
		t.Fatalf("GetQueryWorkItems: %v", err)
	}

	purged := make(chan struct{}, 1)
	unsubscribe := c.OnUpdate().Subscribe(func(cachemanager.OnUpdateEvent) {
		select {
		case purged <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	select {
	case <-purged:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the cache purge")
	}
	if _, found, err := c.Live.Query.GetCachedDataForSearch(context.Background(), *def); err != nil {
		t.Fatalf("GetCachedDataForSearch: %v", err)
	} else if found {
		t.Error("expected sign-out to clear the cached query")
	}
}
