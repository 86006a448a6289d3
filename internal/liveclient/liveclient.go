// Package liveclient defines the narrow collaborator interface to the
// remote Azure DevOps service (component C, spec §2 and §6). The wire
// format, authentication, and the concrete SDK binding are out of scope
// (spec §1 non-goals); this package only declares the shapes and the
// Client interface callers need, and holds no HTTP code of its own.
package liveclient

import (
	"context"
	"time"
)

// RemoteOrganization is the remote shape of an Azure DevOps organization.
type RemoteOrganization struct {
	Name string
}

// RemoteProject is the remote shape of a project.
type RemoteProject struct {
	ExternalID  string
	Name        string
	Description string
}

// RemoteIdentity is the remote shape of a user/identity.
type RemoteIdentity struct {
	ExternalID string
	Name       string
	LoginID    string
}

// RemoteRepository is the remote shape of a git repository.
type RemoteRepository struct {
	ExternalID string
	Name       string
	CloneURL   string
	IsPrivate  bool
}

// QueryKind enumerates the remote work-item query kinds (spec §4.3 QueryUpdater).
type QueryKind string

const (
	QueryFlat      QueryKind = "Flat"
	QueryTree      QueryKind = "Tree"
	QueryOneHop    QueryKind = "OneHop"
	QueryTemporary QueryKind = "Temporary" // unsaved query; rejected with Unsupported
)

// RemoteWorkItemQuery describes a saved work-item query.
type RemoteWorkItemQuery struct {
	ExternalID string
	Name       string
	Kind       QueryKind
	WIQL       string
}

// RemoteWorkItem is the remote shape of a work item.
type RemoteWorkItem struct {
	ExternalID   int
	Title        string
	HTMLURL      string
	State        string
	Reason       string
	AssignedToID string // identity external id, empty if unassigned
	CreatedDate  time.Time
	CreatedByID  string
	ChangedDate  time.Time
	ChangedByID  string
	TypeName     string
}

// RemoteWorkItemType is the remote shape of a work item type definition.
type RemoteWorkItemType struct {
	Name        string
	Icon        string
	Color       string
	Description string
}

// RemotePullRequest is the remote shape of a pull request.
type RemotePullRequest struct {
	ExternalID   int
	Title        string
	URL          string
	HTMLURL      string
	CreatorID    string
	Status       string
	TargetBranch string
	CreationDate time.Time
}

// RemotePolicyEvaluation is one policy check result on a pull request.
type RemotePolicyEvaluation struct {
	Status string // maps onto store.PolicyStatus values
	Reason string
}

// RemoteDefinition is the remote shape of a pipeline/build definition.
type RemoteDefinition struct {
	ExternalID   int
	Name         string
	CreationDate time.Time
	HTMLURL      string
}

// RemoteBuild is the remote shape of a single pipeline run.
type RemoteBuild struct {
	ExternalID     int
	BuildNumber    string
	Status         string
	Result         string
	QueueTime      time.Time
	StartTime      time.Time
	FinishTime     time.Time
	URL            string
	SourceBranch   string
	TriggerMessage string
	RequesterID    string
}

// PullRequestFilter narrows a PR search per spec §4.3 PullRequestUpdater.
type PullRequestFilter struct {
	CreatorID  string // set when View == Mine
	ReviewerID string // set when View == Assigned
}

// Client is the narrow interface every Updater depends on. All methods are
// cancellable via ctx and fail with an *errs.Error of kind RemoteError.
type Client interface {
	GetProject(ctx context.Context, org, project string) (RemoteProject, error)
	GetIdentity(ctx context.Context, org, externalID string) (RemoteIdentity, error)
	GetCurrentIdentity(ctx context.Context, org string) (RemoteIdentity, error)
	GetAvatar(ctx context.Context, org, identityExternalID string) ([]byte, error)

	GetWorkItemQuery(ctx context.Context, org, project, queryExternalID string) (RemoteWorkItemQuery, error)
	RunWIQL(ctx context.Context, org, project, wiql string) ([]int, error)
	GetWorkItems(ctx context.Context, org string, ids []int) ([]RemoteWorkItem, error)
	GetWorkItemType(ctx context.Context, org, project, name string) (RemoteWorkItemType, error)

	GetRepository(ctx context.Context, org, project, repoExternalID string) (RemoteRepository, error)
	GetPullRequests(ctx context.Context, org, project, repoExternalID string, filter PullRequestFilter) ([]RemotePullRequest, error)
	GetPolicyEvaluations(ctx context.Context, org, project string, pullRequestExternalID int) ([]RemotePolicyEvaluation, error)

	GetBuildDefinition(ctx context.Context, org, project string, definitionExternalID int) (RemoteDefinition, error)
	GetBuilds(ctx context.Context, org, project string, definitionExternalID int) ([]RemoteBuild, error)
}
