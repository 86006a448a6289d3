package main

import (
	"context"

	"github.com/azuredevops/cachesync/internal/account"
	"github.com/azuredevops/cachesync/internal/errs"
	"github.com/azuredevops/cachesync/internal/liveclient"
)

// stubClient is the placeholder liveclient.Client this binary wires until a
// real Azure DevOps REST binding is supplied; the wire format and credential
// broker are assumed solved upstream, not part of this core (spec §1
// non-goals).
type stubClient struct{}

func (stubClient) unsupported(op string) error {
	return errs.New(errs.Unsupported, "no LiveClient binding configured: "+op)
}

func (c stubClient) GetProject(ctx context.Context, org, project string) (liveclient.RemoteProject, error) {
	return liveclient.RemoteProject{}, c.unsupported("GetProject")
}

func (c stubClient) GetIdentity(ctx context.Context, org, externalID string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{}, c.unsupported("GetIdentity")
}

func (c stubClient) GetCurrentIdentity(ctx context.Context, org string) (liveclient.RemoteIdentity, error) {
	return liveclient.RemoteIdentity{}, c.unsupported("GetCurrentIdentity")
}

func (c stubClient) GetAvatar(ctx context.Context, org, identityExternalID string) ([]byte, error) {
	return nil, c.unsupported("GetAvatar")
}

func (c stubClient) GetWorkItemQuery(ctx context.Context, org, project, queryExternalID string) (liveclient.RemoteWorkItemQuery, error) {
	return liveclient.RemoteWorkItemQuery{}, c.unsupported("GetWorkItemQuery")
}

func (c stubClient) RunWIQL(ctx context.Context, org, project, wiql string) ([]int, error) {
	return nil, c.unsupported("RunWIQL")
}

func (c stubClient) GetWorkItems(ctx context.Context, org string, ids []int) ([]liveclient.RemoteWorkItem, error) {
	return nil, c.unsupported("GetWorkItems")
}

func (c stubClient) GetWorkItemType(ctx context.Context, org, project, name string) (liveclient.RemoteWorkItemType, error) {
	return liveclient.RemoteWorkItemType{}, c.unsupported("GetWorkItemType")
}

func (c stubClient) GetRepository(ctx context.Context, org, project, repoExternalID string) (liveclient.RemoteRepository, error) {
	return liveclient.RemoteRepository{}, c.unsupported("GetRepository")
}

func (c stubClient) GetPullRequests(ctx context.Context, org, project, repoExternalID string, filter liveclient.PullRequestFilter) ([]liveclient.RemotePullRequest, error) {
	return nil, c.unsupported("GetPullRequests")
}

func (c stubClient) GetPolicyEvaluations(ctx context.Context, org, project string, pullRequestExternalID int) ([]liveclient.RemotePolicyEvaluation, error) {
	return nil, c.unsupported("GetPolicyEvaluations")
}

func (c stubClient) GetBuildDefinition(ctx context.Context, org, project string, definitionExternalID int) (liveclient.RemoteDefinition, error) {
	return liveclient.RemoteDefinition{}, c.unsupported("GetBuildDefinition")
}

func (c stubClient) GetBuilds(ctx context.Context, org, project string, definitionExternalID int) ([]liveclient.RemoteBuild, error) {
	return nil, c.unsupported("GetBuilds")
}

// staticAccounts is a signed-in-by-construction account.Provider; see
// cmd/adosync-cli's identical collaborator for the rationale.
type staticAccounts struct {
	loginID  string
	signedIn bool
}

func newStaticAccounts(loginID string) *staticAccounts {
	return &staticAccounts{loginID: loginID, signedIn: true}
}

func (a *staticAccounts) IsSignedIn(ctx context.Context) bool { return a.signedIn }

func (a *staticAccounts) GetDefaultAccount(ctx context.Context) (account.Identity, error) {
	if !a.signedIn {
		return account.Identity{}, errs.New(errs.Unsupported, "not signed in")
	}
	return account.Identity{LoginID: a.loginID, Name: a.loginID}, nil
}

func (a *staticAccounts) SignIn(ctx context.Context) error { a.signedIn = true; return nil }

func (a *staticAccounts) SignOut(ctx context.Context) error { a.signedIn = false; return nil }

type staticConnections struct{}

func (staticConnections) GetConnection(ctx context.Context, orgURI, acct string) (account.Connection, error) {
	return account.Connection{OrganizationURI: orgURI, Account: acct}, nil
}
