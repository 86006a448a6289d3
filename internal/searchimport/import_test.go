package searchimport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/azuredevops/cachesync"
	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/liveclient"
)

type noopClient struct{}

func (noopClient) GetProject(ctx context.Context, org, project string) (liveclient.RemoteProject, error) {
	return liveclient.RemoteProject{}, nil
}
func (noopClient) GetIdentity(ctx context.Context, org, externalID string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{}, nil
}
func (noopClient) GetCurrentIdentity(ctx context.Context, org string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{}, nil
}
func (noopClient) GetAvatar(ctx context.Context, org, identityExternalID string) ([]byte, error) {
	return nil, nil
}
func (noopClient) GetWorkItemQuery(ctx context.Context, org, project, queryExternalID string) (liveclient.RemoteWorkItemQuery, error) {
	return liveclient.RemoteWorkItemQuery{}, nil
}
func (noopClient) RunWIQL(ctx context.Context, org, project, wiql string) ([]int, error) {
	return nil, nil
}
func (noopClient) GetWorkItems(ctx context.Context, org string, ids []int) ([]liveclient.RemoteWorkItem, error) {
	return nil, nil
}
func (noopClient) GetWorkItemType(ctx context.Context, org, project, name string) (liveclient.RemoteWorkItemType, error) {
	return liveclient.RemoteWorkItemType{}, nil
}
func (noopClient) GetRepository(ctx context.Context, org, project, repoExternalID string) (liveclient.RemoteRepository, error) {
	return liveclient.RemoteRepository{}, nil
}
func (noopClient) GetPullRequests(ctx context.Context, org, project, repoExternalID string, filter liveclient.PullRequestFilter) ([]liveclient.RemotePullRequest, error) {
	return nil, nil
}
func (noopClient) GetPolicyEvaluations(ctx context.Context, org, project string, pullRequestExternalID int) ([]liveclient.RemotePolicyEvaluation, error) {
	return nil, nil
}
func (noopClient) GetBuildDefinition(ctx context.Context, org, project string, definitionExternalID int) (liveclient.RemoteDefinition, error) {
	return liveclient.RemoteDefinition{}, nil
}
func (noopClient) GetBuilds(ctx context.Context, org, project string, definitionExternalID int) ([]liveclient.RemoteBuild, error) {
	return nil, nil
}

type noopAccounts struct{}

func (noopAccounts) IsSignedIn(ctx context.Context) bool { return true }
func (noopAccounts) GetDefaultAccount(ctx context.Context) (account.Identity, error) {
	return account.Identity{LoginID: "tester"}, nil
}
func (noopAccounts) SignIn(ctx context.Context) error  { return nil }
func (noopAccounts) SignOut(ctx context.Context) error { return nil }

type noopConnections struct{}

func (noopConnections) GetConnection(ctx context.Context, orgURI, acct string) (account.Connection, error) {
	return account.Connection{OrganizationURI: orgURI, Account: acct}, nil
}

func newTestClient(t *testing.T) *cachesync.Client {
	t.Helper()
	cfg := cachesync.DefaultConfig()
	cfg.Database.CachePath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Database.PersistentPath = filepath.Join(t.TempDir(), "searches.db")

	c, err := cachesync.Open(context.Background(), cfg, noopClient{}, noopAccounts{}, noopConnections{}, "tester")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestImportMixedDocument(t *testing.T) {
	doc := &Document{
		Queries: []QueryEntry{
			{Name: "My Bugs", URL: "https://dev.azure.com/org/proj/_queries/query/aaa", TopLevel: true},
		},
		PullRequestSearches: []PullRequestSearchEntry{
			{Name: "Reviews", URL: "https://dev.azure.com/org/proj/_git/repo", View: "Mine"},
		},
		PipelineSearches: []PipelineSearchEntry{
			{Name: "CI", URL: "https://dev.azure.com/org/proj/_build?definitionId=1", DefinitionID: 1},
		},
		Projects: []ProjectEntry{
			{OrganizationURL: "https://dev.azure.com/org", ProjectName: "proj"},
		},
	}

	c := newTestClient(t)
	summary := Import(context.Background(), c, doc)

	if len(summary.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", summary.Errors)
	}
	if summary.Total() != 4 {
		t.Fatalf("expected 4 imported entries, got %d", summary.Total())
	}
}

func TestImportSkipsBadEntriesButContinues(t *testing.T) {
	doc := &Document{
		Queries: []QueryEntry{
			{Name: "bad", URL: "not a url at all ::"},
			{Name: "good", URL: "https://dev.azure.com/org/proj/_queries/query/bbb"},
		},
	}

	c := newTestClient(t)
	summary := Import(context.Background(), c, doc)

	if summary.Queries != 1 {
		t.Errorf("expected 1 successful query import, got %d", summary.Queries)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("expected 1 error, got %d", len(summary.Errors))
	}
}

func TestLoadDocumentMissingFile(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDocumentParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "searches.yaml")
	content := "queries:\n  - name: My Bugs\n    url: https://dev.azure.com/org/proj/_queries/query/aaa\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(doc.Queries) != 1 || doc.Queries[0].Name != "My Bugs" {
		t.Errorf("unexpected doc: %+v", doc)
	}
}
