package query

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

const testQueryURL = "https://dev.azure.com/acme/widgets/_queries/query/11111111-1111-1111-1111-111111111111"

// fakeClient is a liveclient.Client stub with canned, configurable
// responses and a record of the id-batches GetWorkItems was called with.
type fakeClient struct {
	mu sync.Mutex

	workItemIDs []int
	items       map[int]liveclient.RemoteWorkItem
	workItemType liveclient.RemoteWorkItemType

	getWorkItemsCalls [][]int
}

func newFakeClient(n int) *fakeClient {
	ids := make([]int, n)
	items := make(map[int]liveclient.RemoteWorkItem, n)
	for i := 0; i < n; i++ {
		id := i + 1
		ids[i] = id
		items[id] = liveclient.RemoteWorkItem{
			ExternalID: id,
			Title:      "item",
			State:      "Active",
			TypeName:   "Bug",
			CreatedDate: time.Now(),
			ChangedDate: time.Now(),
		}
	}
	return &fakeClient{
		workItemIDs:  ids,
		items:        items,
		workItemType: liveclient.RemoteWorkItemType{Name: "Bug", Icon: "bug.svg", Color: "red"},
	}
}

func (f *fakeClient) GetProject(ctx context.Context, org, project string) (liveclient.RemoteProject, error) {
	return liveclient.RemoteProject{ExternalID: "proj-guid", Name: project}, nil
}
func (f *fakeClient) GetIdentity(ctx context.Context, org, externalID string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{ExternalID: externalID, Name: "someone", LoginID: externalID}, nil
}
func (f *fakeClient) GetCurrentIdentity(ctx context.Context, org string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{}, nil
}
func (f *fakeClient) GetAvatar(ctx context.Context, org, identityExternalID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) GetWorkItemQuery(ctx context.Context, org, project, queryExternalID string) (liveclient.RemoteWorkItemQuery, error) {
	return liveclient.RemoteWorkItemQuery{ExternalID: "query-guid", Name: "My Bugs", Kind: liveclient.QueryFlat, WIQL: "SELECT ..."}, nil
}
func (f *fakeClient) RunWIQL(ctx context.Context, org, project, wiql string) ([]int, error) {
	return f.workItemIDs, nil
}
func (f *fakeClient) GetWorkItems(ctx context.Context, org string, ids []int) ([]liveclient.RemoteWorkItem, error) {
	f.mu.Lock()
	f.getWorkItemsCalls = append(f.getWorkItemsCalls, append([]int(nil), ids...))
	f.mu.Unlock()

	out := make([]liveclient.RemoteWorkItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.items[id])
	}
	return out, nil
}
func (f *fakeClient) GetWorkItemType(ctx context.Context, org, project, name string) (liveclient.RemoteWorkItemType, error) {
	return f.workItemType, nil
}
func (f *fakeClient) GetRepository(ctx context.Context, org, project, repoExternalID string) (liveclient.RemoteRepository, error) {
	return liveclient.RemoteRepository{}, nil
}
func (f *fakeClient) GetPullRequests(ctx context.Context, org, project, repoExternalID string, filter liveclient.PullRequestFilter) ([]liveclient.RemotePullRequest, error) {
	return nil, nil
}
func (f *fakeClient) GetPolicyEvaluations(ctx context.Context, org, project string, pullRequestExternalID int) ([]liveclient.RemotePolicyEvaluation, error) {
	return nil, nil
}
func (f *fakeClient) GetBuildDefinition(ctx context.Context, org, project string, definitionExternalID int) (liveclient.RemoteDefinition, error) {
	return liveclient.RemoteDefinition{}, nil
}
func (f *fakeClient) GetBuilds(ctx context.Context, org, project string, definitionExternalID int) ([]liveclient.RemoteBuild, error) {
	return nil, nil
}

type fakeAccounts struct{}

func (fakeAccounts) IsSignedIn(ctx context.Context) bool { return true }
func (fakeAccounts) GetDefaultAccount(ctx context.Context) (account.Identity, error) {
	return account.Identity{LoginID: "tester"}, nil
}
func (fakeAccounts) SignIn(ctx context.Context) error  { return nil }
func (fakeAccounts) SignOut(ctx context.Context) error { return nil }

type fakeConnections struct{}

func (fakeConnections) GetConnection(ctx context.Context, orgURI, acct string) (account.Connection, error) {
	return account.Connection{OrganizationURI: orgURI, Account: acct}, nil
}

func newTestUpdater(t *testing.T, client *fakeClient) *Updater {
	t.Helper()
	cache, err := store.OpenCacheStore(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCacheStore: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return New(updater.Base{
		Cache:       cache,
		Client:      client,
		Accounts:    fakeAccounts{},
		Connections: fakeConnections{},
	})
}

func testSearch() updater.Search {
	return updater.NewQuerySearch(store.QueryDef{URL: testQueryURL})
}

func TestUpdateDataPopulatesCacheAndBatches201Items(t *testing.T) {
	client := newFakeClient(201)
	u := newTestUpdater(t, client)
	u.BatchSize = 200

	def := store.QueryDef{URL: testQueryURL}
	err := u.UpdateData(context.Background(), updater.UpdateParams{Search: testSearch(), Username: "tester"})
	if err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	if len(client.getWorkItemsCalls) != 2 {
		t.Fatalf("expected 2 chunked GetWorkItems calls for 201 ids, got %d", len(client.getWorkItemsCalls))
	}
	sizes := map[int]int{}
	for _, call := range client.getWorkItemsCalls {
		sizes[len(call)]++
	}
	if sizes[200] != 1 || sizes[1] != 1 {
		t.Errorf("expected chunk sizes {200, 1}, got %v", client.getWorkItemsCalls)
	}

	items, err := u.GetCachedChildren(context.Background(), def)
	if err != nil {
		t.Fatalf("GetCachedChildren: %v", err)
	}
	if len(items) != 201 {
		t.Fatalf("expected 201 cached work items, got %d", len(items))
	}
}

func TestUpdateDataIsIdempotent(t *testing.T) {
	client := newFakeClient(10)
	u := newTestUpdater(t, client)
	def := store.QueryDef{URL: testQueryURL}
	params := updater.UpdateParams{Search: testSearch(), Username: "tester"}

	if err := u.UpdateData(context.Background(), params); err != nil {
		t.Fatalf("first UpdateData: %v", err)
	}
	first, err := u.GetCachedChildren(context.Background(), def)
	if err != nil {
		t.Fatalf("GetCachedChildren: %v", err)
	}

	if err := u.UpdateData(context.Background(), params); err != nil {
		t.Fatalf("second UpdateData: %v", err)
	}
	second, err := u.GetCachedChildren(context.Background(), def)
	if err != nil {
		t.Fatalf("GetCachedChildren: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("re-syncing changed the cached row count: %d vs %d", len(first), len(second))
	}
}

func TestUpdateDataCancellationLeavesCacheUnchanged(t *testing.T) {
	client := newFakeClient(5)
	u := newTestUpdater(t, client)
	def := store.QueryDef{URL: testQueryURL}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := u.UpdateData(ctx, updater.UpdateParams{Search: testSearch(), Username: "tester"})
	if err == nil {
		t.Fatal("expected an error from a cancelled sync")
	}
	if !errs.Is(err, errs.Cancelled) {
		t.Errorf("expected errs.Cancelled, got %v (kind %v)", err, errs.KindOf(err))
	}

	if _, found, err := u.Cache.GetSearchSyncState(context.Background(), testSearch().Key()); err != nil {
		t.Fatalf("GetSearchSyncState: %v", err)
	} else if found {
		t.Error("a cancelled sync should leave no sync state behind")
	}

	if _, found, err := u.GetCachedDataForSearch(context.Background(), def); err != nil {
		t.Fatalf("GetCachedDataForSearch: %v", err)
	} else if found {
		t.Error("a cancelled sync should leave the cache unchanged")
	}
}

func TestPruneObsoleteDataRemovesStaleJoinsThenOrphans(t *testing.T) {
	client := newFakeClient(3)
	u := newTestUpdater(t, client)
	def := store.QueryDef{URL: testQueryURL}
	params := updater.UpdateParams{Search: testSearch(), Username: "tester"}

	if err := u.UpdateData(context.Background(), params); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	if items, err := u.GetCachedChildren(context.Background(), def); err != nil || len(items) != 3 {
		t.Fatalf("expected 3 cached items before pruning, got %d (err %v)", len(items), err)
	}

	u.TTL = -time.Hour // cutoff is in the future: every join row is "stale"
	if err := u.PruneObsoleteData(context.Background()); err != nil {
		t.Fatalf("PruneObsoleteData: %v", err)
	}

	items, err := u.GetCachedChildren(context.Background(), def)
	if err != nil {
		t.Fatalf("GetCachedChildren after prune: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected the stale join rows (and their now-orphaned work items) to be gone, got %d", len(items))
	}
}
