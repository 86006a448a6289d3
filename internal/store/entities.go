// Package store implements the content-addressed SQLite-backed data layer:
// a volatile cache (entities, join tables, TTL-based pruning) and a
// persistent store (user-defined search definitions). Both are opened as
// separate SQLite files, mirroring the teacher's single-file storage.Store
// but split in two so the cache can be rebuilt independently of user intent.
package store

import (
	"strings"
	"time"
)

// Ticks is a signed 64-bit tick count of a fixed UTC reference instant,
// per spec §3.2 ("Time is stored as a signed 64-bit integer"). It is the
// on-disk representation of every timeUpdated / TTL comparison.
type Ticks int64

// epoch is the fixed reference instant ticks are counted from.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Now returns the current wall-clock time as Ticks.
func Now() Ticks { return TicksFromTime(time.Now().UTC()) }

// TicksFromTime converts a time.Time to Ticks (nanoseconds since epoch).
func TicksFromTime(t time.Time) Ticks { return Ticks(t.UTC().Sub(epoch)) }

// Time converts Ticks back to a time.Time.
func (t Ticks) Time() time.Time { return epoch.Add(time.Duration(t)) }

// Before reports whether t occurred strictly before u.
func (t Ticks) Before(u Ticks) bool { return t < u }

// --- Persistent store entities (§3.1) ---

// PullRequestSearchView selects which pull requests a PullRequestSearchDef matches.
type PullRequestSearchView string

const (
	ViewMine     PullRequestSearchView = "Mine"
	ViewAssigned PullRequestSearchView = "Assigned"
	ViewAll      PullRequestSearchView = "All"
)

// QueryDef is a persisted work-item-query search definition.
type QueryDef struct {
	ID         int64
	Name       string
	URL        string
	IsTopLevel bool
}

// PullRequestSearchDef is a persisted pull-request search definition.
type PullRequestSearchDef struct {
	ID         int64
	URL        string
	Name       string
	View       PullRequestSearchView
	IsTopLevel bool
}

// DefinitionSearchDef is a persisted pipeline-definition search definition.
type DefinitionSearchDef struct {
	ID         int64
	Name       string
	ExternalID int
	URL        string
	IsTopLevel bool
}

// ProjectSettings implicitly defines a "my work items" search per row.
type ProjectSettings struct {
	ID              int64
	OrganizationURL string
	ProjectName     string
}

// --- Cache store entities (§3.2) ---

// Organization is a cached remote organization.
type Organization struct {
	ID           int64
	Name         string
	Connection   string
	TimeUpdated  Ticks
	TimeLastSync Ticks
}

// Project is a cached remote project.
type Project struct {
	ID             int64
	Name           string
	ExternalID     string // GUID
	Description    string
	OrganizationID int64
	TimeUpdated    Ticks
}

// Identity is a cached remote user/identity.
type Identity struct {
	ID          int64
	Name        string
	ExternalID  string // GUID
	AvatarBlob  []byte
	LoginID     string
	TimeUpdated Ticks
}

// Repository is a cached remote git repository.
type Repository struct {
	ID          int64
	Name        string
	ExternalID  string
	ProjectID   int64
	CloneURL    string
	IsPrivate   bool
	TimeUpdated Ticks
}

// Query is a cached work-item query, including synthesized my-work-items queries.
type Query struct {
	ID          int64
	ExternalID  string
	DisplayName string
	Username    string
	ProjectID   int64
	TimeUpdated Ticks
}

// WorkItemTypePriority orders work item types for UI tie-breaking (§4.3 QueryUpdater).
func WorkItemTypePriority(typeName string) int {
	switch typeName {
	case "Bug":
		return 0
	case "Feature":
		return 1
	case "Product Backlog Item":
		return 2
	case "User Story":
		return 3
	case "Task":
		return 10
	default:
		return 5
	}
}

// WorkItem is a cached remote work item.
type WorkItem struct {
	ID             int64
	ExternalID     int
	Title          string
	HTMLURL        string
	State          string
	Reason         string
	AssignedToID   int64
	CreatedDate    Ticks
	CreatedByID    int64
	ChangedDate    Ticks
	ChangedByID    int64
	WorkItemTypeID int64
}

// WorkItemType is a cached remote work item type definition.
type WorkItemType struct {
	ID          int64
	Name        string
	Icon        string
	Color       string
	Description string
	ProjectID   int64
}

// QueryWorkItem is the join row making a work item reachable from a query.
type QueryWorkItem struct {
	ID          int64
	QueryID     int64
	WorkItemID  int64
	TimeUpdated Ticks
}

// PullRequestSearch is a cached, materialized pull-request search.
type PullRequestSearch struct {
	ID           int64
	RepositoryID int64
	Username     string
	ProjectID    int64
	ViewID       string
	TimeUpdated  Ticks
}

// PolicyStatus is the worst-severity outcome across a pull request's policy evaluations.
type PolicyStatus string

const (
	PolicyApproved     PolicyStatus = "Approved"
	PolicyRunning      PolicyStatus = "Running"
	PolicyQueued       PolicyStatus = "Queued"
	PolicyRejected     PolicyStatus = "Rejected"
	PolicyBroken       PolicyStatus = "Broken"
	PolicyNotApplicable PolicyStatus = "NotApplicable"
)

// policySeverity orders PolicyStatus values from worst to best; lower is worse.
// Used by PullRequestUpdater to reduce many evaluations to one status.
var policySeverity = map[PolicyStatus]int{
	PolicyBroken:        0,
	PolicyRejected:       1,
	PolicyQueued:         2,
	PolicyRunning:        3,
	PolicyNotApplicable:  4,
	PolicyApproved:       5,
}

// WorstPolicyStatus returns whichever of a, b is more severe (lower rank wins).
func WorstPolicyStatus(a, b PolicyStatus) PolicyStatus {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if policySeverity[a] <= policySeverity[b] {
		return a
	}
	return b
}

// PullRequest is a cached remote pull request.
type PullRequest struct {
	ID                  int64
	ExternalID          int
	Title               string
	URL                 string
	RepositoryID        int64
	CreatorID           int64
	Status              string
	PolicyStatus        PolicyStatus
	PolicyStatusReason  string
	TargetBranch        string
	CreationDate        Ticks
	HTMLURL             string
}

// PullRequestSearchPullRequest is the join row making a PR reachable from a search.
type PullRequestSearchPullRequest struct {
	ID              int64
	SearchID        int64
	PullRequestID   int64
	TimeUpdated     Ticks
}

// Definition is a cached remote pipeline/build definition.
type Definition struct {
	ID           int64
	ExternalID   int
	Name         string
	ProjectID    int64
	CreationDate Ticks
	HTMLURL      string
	TimeUpdated  Ticks
}

// Build is a cached remote pipeline run.
type Build struct {
	ID              int64
	ExternalID      int
	BuildNumber     string
	Status          string
	Result          string
	QueueTime       Ticks
	StartTime       Ticks
	FinishTime      Ticks
	URL             string
	DefinitionID    int64
	SourceBranch    string
	TriggerMessage  string
	RequesterID     int64
	TimeUpdated     Ticks
}

// MyWorkItemsQueryKey synthesizes the stable Query.ExternalID for the
// implicit "my work items" search, per spec §4.3 MyWorkItemsUpdater.
// org/project are lowered first: the (org, project) pair is deduplicated
// case-insensitively wherever it's used as a map key.
func MyWorkItemsQueryKey(org, project string) string {
	return "my-work-items:" + strings.ToLower(org) + "|" + strings.ToLower(project)
}

// MyWorkItemsWIQL is the fixed WIQL literal for the synthesized query.
const MyWorkItemsWIQL = `SELECT [System.Id] FROM WorkItems WHERE [System.AssignedTo] = @Me AND [System.State] <> 'Closed' AND [System.State] <> 'Removed' ORDER BY [System.ChangedDate] DESC`
