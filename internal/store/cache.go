package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/azuredevops/cachesync/internal/errs"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, letting every CacheStore
// method run either inside an Updater's transaction or, for read paths,
// directly against the pooled connection.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CacheStore is the volatile, schema-versioned cache half of DataStore (A).
// On schema mismatch the underlying file is deleted and recreated
// (spec §4.1); the persistent store is never touched by this type.
type CacheStore struct {
	path string
	db   *sql.DB
}

// OpenCacheStore opens (or bootstraps) the cache database at path,
// rebuilding it if the persisted schema_version metadata does not match
// cacheSchemaVersion.
func OpenCacheStore(ctx context.Context, path string) (*CacheStore, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.DataStoreInaccessible, "bootstrap cache schema", err)
	}

	version, err := getMetadata(ctx, db, "schema_version")
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.DataStoreInaccessible, "read schema_version", err)
	}

	if version != fmtSchemaVersion(cacheSchemaVersion) {
		db.Close()
		if err := removeFileIfExists(path); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "rebuild cache file", err)
		}
		db, err = open(path)
		if err != nil {
			return nil, err
		}
		if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.DataStoreInaccessible, "bootstrap cache schema", err)
		}
		if err := setMetadata(ctx, db, "schema_version", fmtSchemaVersion(cacheSchemaVersion)); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.DataStoreInaccessible, "write schema_version", err)
		}
	}

	return &CacheStore{path: path, db: db}, nil
}

// Close releases the underlying connection.
func (c *CacheStore) Close() error { return c.db.Close() }

// DB exposes the pooled connection as a DBTX for read-only lookups that
// must run before a write transaction is opened (spec §9 "Transactions":
// remote calls, including the cache checks that decide whether one is
// needed, never run inside an open write tx).
func (c *CacheStore) DB() DBTX { return c.db }

// IsConnected reports whether the store can still answer a trivial query.
func (c *CacheStore) IsConnected() bool {
	return c.db.Ping() == nil
}

// BeginTx starts a transaction used to scope one Updater's bulk write, so
// readers never observe a half-synced search (spec §4.1 "Transaction discipline").
func (c *CacheStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return beginTx(ctx, c.db)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic — the single entry point Updaters use so
// cancellation mid-sync always leaves the cache unchanged for that search
// (spec §8 "Cancellation... leaves the cache in exactly the state it had").
func (c *CacheStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "commit", err)
	}
	return nil
}

// PurgeAll deletes every row from every cache table, keeping the schema
// itself, and re-stamps schema_version; used by
// DataUpdateService.purgeAllData and CacheManager's ClearCache action.
func (c *CacheStore) PurgeAll(ctx context.Context) error {
	tables := []string{
		"builds", "definitions",
		"pull_request_search_pull_requests", "pull_requests", "pull_request_searches",
		"query_work_items", "work_items", "work_item_types", "queries",
		"repositories", "identities", "projects", "organizations",
		"search_sync_state", "metadata",
	}
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return errs.Wrap(errs.DataStoreInaccessible, "purge "+t, err)
			}
		}
		return setMetadata(ctx, tx, "schema_version", fmtSchemaVersion(cacheSchemaVersion))
	})
}

// GetLastUpdated returns the wall-clock of the last successful dispatch,
// 0 if none has ever completed.
func (c *CacheStore) GetLastUpdated(ctx context.Context) (Ticks, error) {
	v, err := getMetadata(ctx, c.db, "last_updated")
	if err != nil || v == "" {
		return 0, err
	}
	var t int64
	if _, err := parseInt(v, &t); err != nil {
		return 0, nil
	}
	return Ticks(t), nil
}

// SetLastUpdated persists the wall-clock of the most recent successful dispatch.
func (c *CacheStore) SetLastUpdated(ctx context.Context, t Ticks) error {
	return setMetadata(ctx, c.db, "last_updated", formatInt(int64(t)))
}

// --- Search sync state (drives IsNewOrStale / cold-miss detection) ---

// UpsertSearchSyncState records that the search identified by key just
// finished a successful sync, along with the local id of the cache row it
// produced (the Query/PullRequestSearch/Definition row), so a later reader
// holding only the search's definition (not its remote external id) can
// still resolve straight to the cached parent row (spec §4.6 step 2).
func (c *CacheStore) UpsertSearchSyncState(ctx context.Context, tx DBTX, key string, t Ticks, refID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO search_sync_state (search_key, time_updated, ref_id) VALUES (?, ?, ?)
		 ON CONFLICT(search_key) DO UPDATE SET time_updated = excluded.time_updated, ref_id = excluded.ref_id`,
		key, int64(t), refID)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "upsert search sync state", err)
	}
	return nil
}

// SearchSyncState is what GetSearchSyncState returns for a previously
// synced search.
type SearchSyncState struct {
	TimeUpdated Ticks
	RefID       int64
}

// GetSearchSyncState returns the last successful sync state for key, and
// whether any sync has ever completed for it.
func (c *CacheStore) GetSearchSyncState(ctx context.Context, key string) (SearchSyncState, bool, error) {
	var s SearchSyncState
	var tu int64
	err := c.db.QueryRowContext(ctx, "SELECT time_updated, ref_id FROM search_sync_state WHERE search_key = ?", key).Scan(&tu, &s.RefID)
	if err == sql.ErrNoRows {
		return SearchSyncState{}, false, nil
	}
	if err != nil {
		return SearchSyncState{}, false, errs.Wrap(errs.DataStoreInaccessible, "get search sync state", err)
	}
	s.TimeUpdated = Ticks(tu)
	return s, true, nil
}

// --- Organization ---

// UpsertOrganization inserts or refreshes the Organization row for connection.
func (c *CacheStore) UpsertOrganization(ctx context.Context, tx DBTX, name, connection string) (*Organization, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (name, connection, time_updated, time_last_sync)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(connection) DO UPDATE SET name = excluded.name, time_updated = excluded.time_updated`,
		name, connection, int64(now), int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert organization", err)
	}
	return c.GetOrganizationByConnection(ctx, tx, connection)
}

// GetOrganizationByConnection looks up an Organization by its unique connection string.
func (c *CacheStore) GetOrganizationByConnection(ctx context.Context, q DBTX, connection string) (*Organization, error) {
	var o Organization
	var tu, tls int64
	err := q.QueryRowContext(ctx,
		"SELECT id, name, connection, time_updated, time_last_sync FROM organizations WHERE connection = ?",
		connection).Scan(&o.ID, &o.Name, &o.Connection, &tu, &tls)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "organization "+connection)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get organization", err)
	}
	o.TimeUpdated, o.TimeLastSync = Ticks(tu), Ticks(tls)
	return &o, nil
}

// TouchOrganizationSync stamps an organization's time_last_sync to now.
func (c *CacheStore) TouchOrganizationSync(ctx context.Context, tx DBTX, id int64) error {
	_, err := tx.ExecContext(ctx, "UPDATE organizations SET time_last_sync = ? WHERE id = ?", int64(Now()), id)
	return err
}

// --- Project ---

// UpsertProject inserts or refreshes the Project row keyed by external GUID.
// The name column is always refreshed (Open Question 2: project renames
// must propagate so synthesized URLs stay correct).
func (c *CacheStore) UpsertProject(ctx context.Context, tx DBTX, name, externalID, description string, orgID int64) (*Project, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, external_id, description, organization_id, time_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   name = excluded.name, description = excluded.description, time_updated = excluded.time_updated`,
		name, externalID, description, orgID, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert project", err)
	}
	return c.GetProjectByExternalID(ctx, tx, externalID)
}

// GetProjectByExternalID looks up a Project by its remote GUID.
func (c *CacheStore) GetProjectByExternalID(ctx context.Context, q DBTX, externalID string) (*Project, error) {
	var p Project
	var tu int64
	err := q.QueryRowContext(ctx,
		"SELECT id, name, external_id, description, organization_id, time_updated FROM projects WHERE external_id = ?",
		externalID).Scan(&p.ID, &p.Name, &p.ExternalID, &p.Description, &p.OrganizationID, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "project "+externalID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get project", err)
	}
	p.TimeUpdated = Ticks(tu)
	return &p, nil
}

// --- Identity ---

// UpsertIdentity inserts or refreshes an Identity row keyed by external GUID.
func (c *CacheStore) UpsertIdentity(ctx context.Context, tx DBTX, name, externalID string, avatar []byte, loginID string) (*Identity, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO identities (name, external_id, avatar_blob, login_id, time_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   name = excluded.name, avatar_blob = excluded.avatar_blob,
		   login_id = excluded.login_id, time_updated = excluded.time_updated`,
		name, externalID, avatar, loginID, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert identity", err)
	}
	return c.GetIdentityByExternalID(ctx, tx, externalID)
}

// GetIdentityByExternalID looks up an Identity by its remote GUID.
func (c *CacheStore) GetIdentityByExternalID(ctx context.Context, q DBTX, externalID string) (*Identity, error) {
	var id Identity
	var tu int64
	err := q.QueryRowContext(ctx,
		"SELECT id, name, external_id, avatar_blob, login_id, time_updated FROM identities WHERE external_id = ?",
		externalID).Scan(&id.ID, &id.Name, &id.ExternalID, &id.AvatarBlob, &id.LoginID, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "identity "+externalID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get identity", err)
	}
	id.TimeUpdated = Ticks(tu)
	return &id, nil
}

// --- Repository ---

// UpsertRepository inserts or refreshes a Repository row scoped to a project.
func (c *CacheStore) UpsertRepository(ctx context.Context, tx DBTX, name, externalID string, projectID int64, cloneURL string, isPrivate bool) (*Repository, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO repositories (name, external_id, project_id, clone_url, is_private, time_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, external_id) DO UPDATE SET
		   name = excluded.name, clone_url = excluded.clone_url,
		   is_private = excluded.is_private, time_updated = excluded.time_updated`,
		name, externalID, projectID, cloneURL, isPrivate, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert repository", err)
	}
	return c.GetRepositoryByExternalID(ctx, tx, projectID, externalID)
}

// GetRepositoryByExternalID looks up a Repository scoped to a project.
func (c *CacheStore) GetRepositoryByExternalID(ctx context.Context, q DBTX, projectID int64, externalID string) (*Repository, error) {
	var r Repository
	var tu int64
	err := q.QueryRowContext(ctx,
		`SELECT id, name, external_id, project_id, clone_url, is_private, time_updated
		 FROM repositories WHERE project_id = ? AND external_id = ?`,
		projectID, externalID).Scan(&r.ID, &r.Name, &r.ExternalID, &r.ProjectID, &r.CloneURL, &r.IsPrivate, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "repository "+externalID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get repository", err)
	}
	r.TimeUpdated = Ticks(tu)
	return &r, nil
}

// --- Query ---

// UpsertQuery inserts or refreshes a Query row, used both for real remote
// queries and for synthesized my-work-items queries (same table, same key shape).
func (c *CacheStore) UpsertQuery(ctx context.Context, tx DBTX, externalID, displayName, username string, projectID int64) (*Query, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO queries (external_id, display_name, username, project_id, time_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(external_id, username) DO UPDATE SET
		   display_name = excluded.display_name, project_id = excluded.project_id,
		   time_updated = excluded.time_updated`,
		externalID, displayName, username, projectID, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert query", err)
	}
	return c.GetQueryByKey(ctx, tx, externalID, username)
}

// GetQueryByKey looks up a Query by its (externalID, username) natural key.
func (c *CacheStore) GetQueryByKey(ctx context.Context, q DBTX, externalID, username string) (*Query, error) {
	var qq Query
	var tu int64
	err := q.QueryRowContext(ctx,
		"SELECT id, external_id, display_name, username, project_id, time_updated FROM queries WHERE external_id = ? AND username = ?",
		externalID, username).Scan(&qq.ID, &qq.ExternalID, &qq.DisplayName, &qq.Username, &qq.ProjectID, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "query "+externalID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get query", err)
	}
	qq.TimeUpdated = Ticks(tu)
	return &qq, nil
}

// GetQueryByRowID looks up a Query by its local row id, for callers that
// resolved it from search_sync_state's ref_id (spec §4.6 step 2).
func (c *CacheStore) GetQueryByRowID(ctx context.Context, id int64) (*Query, error) {
	var qq Query
	var tu int64
	err := c.db.QueryRowContext(ctx,
		"SELECT id, external_id, display_name, username, project_id, time_updated FROM queries WHERE id = ?",
		id).Scan(&qq.ID, &qq.ExternalID, &qq.DisplayName, &qq.Username, &qq.ProjectID, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "query")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get query", err)
	}
	qq.TimeUpdated = Ticks(tu)
	return &qq, nil
}

// --- WorkItemType ---

// UpsertWorkItemType inserts or refreshes a WorkItemType scoped to a project.
func (c *CacheStore) UpsertWorkItemType(ctx context.Context, tx DBTX, name, icon, color, description string, projectID int64) (*WorkItemType, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO work_item_types (name, icon, color, description, project_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name, project_id) DO UPDATE SET
		   icon = excluded.icon, color = excluded.color, description = excluded.description`,
		name, icon, color, description, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert work item type", err)
	}
	return c.GetWorkItemTypeByName(ctx, tx, name, projectID)
}

// GetWorkItemTypeByName looks up a WorkItemType by its (name, project) natural key.
func (c *CacheStore) GetWorkItemTypeByName(ctx context.Context, q DBTX, name string, projectID int64) (*WorkItemType, error) {
	var t WorkItemType
	err := q.QueryRowContext(ctx,
		"SELECT id, name, icon, color, description, project_id FROM work_item_types WHERE name = ? AND project_id = ?",
		name, projectID).Scan(&t.ID, &t.Name, &t.Icon, &t.Color, &t.Description, &t.ProjectID)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "work item type "+name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get work item type", err)
	}
	return &t, nil
}

// --- WorkItem ---

// UpsertWorkItem inserts or refreshes a WorkItem keyed by its remote id.
func (c *CacheStore) UpsertWorkItem(ctx context.Context, tx DBTX, wi WorkItem) (*WorkItem, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO work_items (external_id, title, html_url, state, reason, assigned_to_id,
		   created_date, created_by_id, changed_date, changed_by_id, work_item_type_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   title = excluded.title, html_url = excluded.html_url, state = excluded.state,
		   reason = excluded.reason, assigned_to_id = excluded.assigned_to_id,
		   changed_date = excluded.changed_date, changed_by_id = excluded.changed_by_id,
		   work_item_type_id = excluded.work_item_type_id`,
		wi.ExternalID, wi.Title, wi.HTMLURL, wi.State, wi.Reason, wi.AssignedToID,
		int64(wi.CreatedDate), wi.CreatedByID, int64(wi.ChangedDate), wi.ChangedByID, wi.WorkItemTypeID)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert work item", err)
	}
	return c.GetWorkItemByExternalID(ctx, tx, wi.ExternalID)
}

// GetWorkItemByExternalID looks up a WorkItem by its remote id.
func (c *CacheStore) GetWorkItemByExternalID(ctx context.Context, q DBTX, externalID int) (*WorkItem, error) {
	var wi WorkItem
	var cd, chd int64
	err := q.QueryRowContext(ctx,
		`SELECT id, external_id, title, html_url, state, reason, assigned_to_id,
		   created_date, created_by_id, changed_date, changed_by_id, work_item_type_id
		 FROM work_items WHERE external_id = ?`, externalID).
		Scan(&wi.ID, &wi.ExternalID, &wi.Title, &wi.HTMLURL, &wi.State, &wi.Reason, &wi.AssignedToID,
			&cd, &wi.CreatedByID, &chd, &wi.ChangedByID, &wi.WorkItemTypeID)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "work item")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get work item", err)
	}
	wi.CreatedDate, wi.ChangedDate = Ticks(cd), Ticks(chd)
	return &wi, nil
}

// --- QueryWorkItem join ---

// UpsertQueryWorkItem marks a work item as currently reachable from a query,
// refreshing time_updated to now.
func (c *CacheStore) UpsertQueryWorkItem(ctx context.Context, tx DBTX, queryID, workItemID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO query_work_items (query_id, work_item_id, time_updated) VALUES (?, ?, ?)
		 ON CONFLICT(query_id, work_item_id) DO UPDATE SET time_updated = excluded.time_updated`,
		queryID, workItemID, int64(Now()))
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "upsert query_work_item", err)
	}
	return nil
}

// DeleteStaleQueryWorkItems removes join rows for queryID whose time_updated
// predates syncStart — items that fell out of the remote result this cycle.
func (c *CacheStore) DeleteStaleQueryWorkItems(ctx context.Context, tx DBTX, queryID int64, syncStart Ticks) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM query_work_items WHERE query_id = ? AND time_updated < ?",
		queryID, int64(syncStart))
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "prune query_work_items", err)
	}
	return nil
}

// GetQueryWorkItemsOrdered returns the work items for a query in the
// spec's UI tie-break order: work-item-type priority, then changed date descending.
func (c *CacheStore) GetQueryWorkItemsOrdered(ctx context.Context, queryID int64) ([]WorkItem, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT wi.id, wi.external_id, wi.title, wi.html_url, wi.state, wi.reason, wi.assigned_to_id,
		   wi.created_date, wi.created_by_id, wi.changed_date, wi.changed_by_id, wi.work_item_type_id,
		   COALESCE(wit.name, '')
		 FROM query_work_items qwi
		 JOIN work_items wi ON wi.id = qwi.work_item_id
		 LEFT JOIN work_item_types wit ON wit.id = wi.work_item_type_id
		 WHERE qwi.query_id = ?`, queryID)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list query work items", err)
	}
	defer rows.Close()

	type row struct {
		wi       WorkItem
		typeName string
	}
	var all []row
	for rows.Next() {
		var r row
		var cd, chd int64
		if err := rows.Scan(&r.wi.ID, &r.wi.ExternalID, &r.wi.Title, &r.wi.HTMLURL, &r.wi.State, &r.wi.Reason,
			&r.wi.AssignedToID, &cd, &r.wi.CreatedByID, &chd, &r.wi.ChangedByID, &r.wi.WorkItemTypeID, &r.typeName); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan query work item", err)
		}
		r.wi.CreatedDate, r.wi.ChangedDate = Ticks(cd), Ticks(chd)
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "iterate query work items", err)
	}

	sortByPriorityThenChangedDesc(all, func(i int) (int, Ticks) {
		return WorkItemTypePriority(all[i].typeName), all[i].wi.ChangedDate
	})

	out := make([]WorkItem, len(all))
	for i, r := range all {
		out[i] = r.wi
	}
	return out, nil
}

// --- PullRequestSearch ---

// UpsertPullRequestSearch inserts or refreshes a materialized PR search row.
func (c *CacheStore) UpsertPullRequestSearch(ctx context.Context, tx DBTX, projectID, repositoryID int64, username, viewID string) (*PullRequestSearch, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pull_request_searches (repository_id, username, project_id, view_id, time_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, repository_id, username, view_id) DO UPDATE SET time_updated = excluded.time_updated`,
		repositoryID, username, projectID, viewID, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert pr search", err)
	}
	var s PullRequestSearch
	var tu int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, repository_id, username, project_id, view_id, time_updated
		 FROM pull_request_searches WHERE project_id = ? AND repository_id = ? AND username = ? AND view_id = ?`,
		projectID, repositoryID, username, viewID).
		Scan(&s.ID, &s.RepositoryID, &s.Username, &s.ProjectID, &s.ViewID, &tu)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get pr search", err)
	}
	s.TimeUpdated = Ticks(tu)
	return &s, nil
}

// GetPullRequestSearchByRowID looks up a PullRequestSearch by its local row id.
func (c *CacheStore) GetPullRequestSearchByRowID(ctx context.Context, id int64) (*PullRequestSearch, error) {
	var s PullRequestSearch
	var tu int64
	err := c.db.QueryRowContext(ctx,
		"SELECT id, repository_id, username, project_id, view_id, time_updated FROM pull_request_searches WHERE id = ?",
		id).Scan(&s.ID, &s.RepositoryID, &s.Username, &s.ProjectID, &s.ViewID, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "pull request search")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get pr search", err)
	}
	s.TimeUpdated = Ticks(tu)
	return &s, nil
}

// --- PullRequest ---

// UpsertPullRequest inserts or refreshes a PullRequest keyed by its remote id.
func (c *CacheStore) UpsertPullRequest(ctx context.Context, tx DBTX, pr PullRequest) (*PullRequest, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pull_requests (external_id, title, url, repository_id, creator_id, status,
		   policy_status, policy_status_reason, target_branch, creation_date, html_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   title = excluded.title, url = excluded.url, status = excluded.status,
		   policy_status = excluded.policy_status, policy_status_reason = excluded.policy_status_reason,
		   target_branch = excluded.target_branch, html_url = excluded.html_url`,
		pr.ExternalID, pr.Title, pr.URL, pr.RepositoryID, pr.CreatorID, pr.Status,
		string(pr.PolicyStatus), pr.PolicyStatusReason, pr.TargetBranch, int64(pr.CreationDate), pr.HTMLURL)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert pull request", err)
	}
	return c.GetPullRequestByExternalID(ctx, tx, pr.ExternalID)
}

// GetPullRequestByExternalID looks up a PullRequest by its remote id.
func (c *CacheStore) GetPullRequestByExternalID(ctx context.Context, q DBTX, externalID int) (*PullRequest, error) {
	var pr PullRequest
	var policy string
	var cd int64
	err := q.QueryRowContext(ctx,
		`SELECT id, external_id, title, url, repository_id, creator_id, status,
		   policy_status, policy_status_reason, target_branch, creation_date, html_url
		 FROM pull_requests WHERE external_id = ?`, externalID).
		Scan(&pr.ID, &pr.ExternalID, &pr.Title, &pr.URL, &pr.RepositoryID, &pr.CreatorID, &pr.Status,
			&policy, &pr.PolicyStatusReason, &pr.TargetBranch, &cd, &pr.HTMLURL)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "pull request")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get pull request", err)
	}
	pr.PolicyStatus = PolicyStatus(policy)
	pr.CreationDate = Ticks(cd)
	return &pr, nil
}

// --- PullRequestSearchPullRequest join ---

// UpsertPullRequestSearchPullRequest marks a PR as currently reachable from a search.
func (c *CacheStore) UpsertPullRequestSearchPullRequest(ctx context.Context, tx DBTX, searchID, pullRequestID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pull_request_search_pull_requests (search_id, pull_request_id, time_updated) VALUES (?, ?, ?)
		 ON CONFLICT(search_id, pull_request_id) DO UPDATE SET time_updated = excluded.time_updated`,
		searchID, pullRequestID, int64(Now()))
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "upsert pr search join", err)
	}
	return nil
}

// DeleteStalePullRequestSearchPullRequests removes join rows older than syncStart.
func (c *CacheStore) DeleteStalePullRequestSearchPullRequests(ctx context.Context, tx DBTX, searchID int64, syncStart Ticks) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM pull_request_search_pull_requests WHERE search_id = ? AND time_updated < ?",
		searchID, int64(syncStart))
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "prune pr search join", err)
	}
	return nil
}

// GetPullRequestSearchPullRequestsOrdered returns PRs for a search ordered
// by creation date descending, then join time_updated descending.
func (c *CacheStore) GetPullRequestSearchPullRequestsOrdered(ctx context.Context, searchID int64) ([]PullRequest, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT pr.id, pr.external_id, pr.title, pr.url, pr.repository_id, pr.creator_id, pr.status,
		   pr.policy_status, pr.policy_status_reason, pr.target_branch, pr.creation_date, pr.html_url
		 FROM pull_request_search_pull_requests j
		 JOIN pull_requests pr ON pr.id = j.pull_request_id
		 WHERE j.search_id = ?
		 ORDER BY pr.creation_date DESC, j.time_updated DESC`, searchID)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list pr search prs", err)
	}
	defer rows.Close()

	var out []PullRequest
	for rows.Next() {
		var pr PullRequest
		var policy string
		var cd int64
		if err := rows.Scan(&pr.ID, &pr.ExternalID, &pr.Title, &pr.URL, &pr.RepositoryID, &pr.CreatorID, &pr.Status,
			&policy, &pr.PolicyStatusReason, &pr.TargetBranch, &cd, &pr.HTMLURL); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan pr search pr", err)
		}
		pr.PolicyStatus = PolicyStatus(policy)
		pr.CreationDate = Ticks(cd)
		out = append(out, pr)
	}
	return out, rows.Err()
}

// --- Definition ---

// UpsertDefinitionRateLimited inserts a Definition if absent, or refreshes
// one only if at least threshold has elapsed since its time_updated
// (spec §4.3 PipelineUpdater "definition update threshold").
func (c *CacheStore) UpsertDefinitionRateLimited(ctx context.Context, tx DBTX, externalID int, name string, projectID int64, creationDate Ticks, htmlURL string, threshold time.Duration) (*Definition, error) {
	existing, err := c.GetDefinitionByExternalID(ctx, tx, externalID)
	if err != nil && errs.KindOf(err) != errs.NotFound {
		return nil, err
	}
	now := Now()
	if existing != nil {
		if now.Time().Sub(existing.TimeUpdated.Time()) < threshold {
			return existing, nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE definitions SET name = ?, project_id = ?, creation_date = ?, html_url = ?, time_updated = ?
			 WHERE external_id = ?`,
			name, projectID, int64(creationDate), htmlURL, int64(now), externalID)
		if err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "update definition", err)
		}
		return c.GetDefinitionByExternalID(ctx, tx, externalID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO definitions (external_id, name, project_id, creation_date, html_url, time_updated)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		externalID, name, projectID, int64(creationDate), htmlURL, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "insert definition", err)
	}
	return c.GetDefinitionByExternalID(ctx, tx, externalID)
}

// GetDefinitionByExternalID looks up a Definition by its remote integer id.
func (c *CacheStore) GetDefinitionByExternalID(ctx context.Context, q DBTX, externalID int) (*Definition, error) {
	var d Definition
	var cd, tu int64
	err := q.QueryRowContext(ctx,
		"SELECT id, external_id, name, project_id, creation_date, html_url, time_updated FROM definitions WHERE external_id = ?",
		externalID).Scan(&d.ID, &d.ExternalID, &d.Name, &d.ProjectID, &cd, &d.HTMLURL, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "definition")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get definition", err)
	}
	d.CreationDate, d.TimeUpdated = Ticks(cd), Ticks(tu)
	return &d, nil
}

// GetDefinitionByRowID looks up a Definition by its local row id.
func (c *CacheStore) GetDefinitionByRowID(ctx context.Context, id int64) (*Definition, error) {
	var d Definition
	var cd, tu int64
	err := c.db.QueryRowContext(ctx,
		"SELECT id, external_id, name, project_id, creation_date, html_url, time_updated FROM definitions WHERE id = ?",
		id).Scan(&d.ID, &d.ExternalID, &d.Name, &d.ProjectID, &cd, &d.HTMLURL, &tu)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "definition")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get definition", err)
	}
	d.CreationDate, d.TimeUpdated = Ticks(cd), Ticks(tu)
	return &d, nil
}

// --- Build ---

// UpsertBuild inserts or refreshes a Build keyed by its remote id. Builds
// carry no rate-limit throttle, unlike their parent Definition.
func (c *CacheStore) UpsertBuild(ctx context.Context, tx DBTX, b Build) (*Build, error) {
	now := Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO builds (external_id, build_number, status, result, queue_time, start_time, finish_time,
		   url, definition_id, source_branch, trigger_message, requester_id, time_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   status = excluded.status, result = excluded.result, start_time = excluded.start_time,
		   finish_time = excluded.finish_time, time_updated = excluded.time_updated`,
		b.ExternalID, b.BuildNumber, b.Status, b.Result, int64(b.QueueTime), int64(b.StartTime), int64(b.FinishTime),
		b.URL, b.DefinitionID, b.SourceBranch, b.TriggerMessage, b.RequesterID, int64(now))
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "upsert build", err)
	}
	var out Build
	var qt, st, ft, tu int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, external_id, build_number, status, result, queue_time, start_time, finish_time,
		   url, definition_id, source_branch, trigger_message, requester_id, time_updated
		 FROM builds WHERE external_id = ?`, b.ExternalID).
		Scan(&out.ID, &out.ExternalID, &out.BuildNumber, &out.Status, &out.Result, &qt, &st, &ft,
			&out.URL, &out.DefinitionID, &out.SourceBranch, &out.TriggerMessage, &out.RequesterID, &tu)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get build", err)
	}
	out.QueueTime, out.StartTime, out.FinishTime, out.TimeUpdated = Ticks(qt), Ticks(st), Ticks(ft), Ticks(tu)
	return &out, nil
}

// GetBuildsForDefinitionOrdered returns builds for a definition ordered by
// queue time descending, per spec §4.3 PipelineUpdater.
func (c *CacheStore) GetBuildsForDefinitionOrdered(ctx context.Context, definitionID int64) ([]Build, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, external_id, build_number, status, result, queue_time, start_time, finish_time,
		   url, definition_id, source_branch, trigger_message, requester_id, time_updated
		 FROM builds WHERE definition_id = ? ORDER BY queue_time DESC`, definitionID)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list builds", err)
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var qt, st, ft, tu int64
		if err := rows.Scan(&b.ID, &b.ExternalID, &b.BuildNumber, &b.Status, &b.Result, &qt, &st, &ft,
			&b.URL, &b.DefinitionID, &b.SourceBranch, &b.TriggerMessage, &b.RequesterID, &tu); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan build", err)
		}
		b.QueueTime, b.StartTime, b.FinishTime, b.TimeUpdated = Ticks(qt), Ticks(st), Ticks(ft), Ticks(tu)
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- Pruning (§4.3.1) ---

// PruneConfig carries the TTL knobs pruning needs; see spec §6. A zero
// duration leaves that category of rows untouched.
type PruneConfig struct {
	BuildRetention                   time.Duration
	QueryWorkItemTTL                 time.Duration
	MyWorkItemsQueryWorkItemTTL      time.Duration
	PullRequestSearchPullRequestTTL  time.Duration
}

// PruneTTL deletes Build rows, QueryWorkItem join rows and
// PullRequestSearchPullRequest join rows older than their configured
// retention. Must run before PruneOrphans (spec §4.3.1 ordering).
func (c *CacheStore) PruneTTL(ctx context.Context, cfg PruneConfig) error {
	now := Now()
	// A zero retention yields a cutoff no row is below.
	cutoff := func(ttl time.Duration) int64 {
		if ttl == 0 {
			return math.MinInt64
		}
		return int64(TicksFromTime(now.Time().Add(-ttl)))
	}
	buildCutoff := cutoff(cfg.BuildRetention)
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM builds WHERE time_updated < ?", int64(buildCutoff)); err != nil {
			return errs.Wrap(errs.DataStoreInaccessible, "prune builds", err)
		}

		// QueryWorkItem TTL differs by whether the owning query is a
		// synthesized my-work-items query (external_id starts with the
		// synthesized prefix) or a real saved query.
		myWorkItemsCutoff := cutoff(cfg.MyWorkItemsQueryWorkItemTTL)
		queryCutoff := cutoff(cfg.QueryWorkItemTTL)

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM query_work_items WHERE time_updated < ? AND query_id IN (
			   SELECT id FROM queries WHERE external_id LIKE 'my-work-items:%')`,
			int64(myWorkItemsCutoff)); err != nil {
			return errs.Wrap(errs.DataStoreInaccessible, "prune my-work-items query_work_items", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM query_work_items WHERE time_updated < ? AND query_id IN (
			   SELECT id FROM queries WHERE external_id NOT LIKE 'my-work-items:%')`,
			int64(queryCutoff)); err != nil {
			return errs.Wrap(errs.DataStoreInaccessible, "prune query_work_items", err)
		}

		prCutoff := cutoff(cfg.PullRequestSearchPullRequestTTL)
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM pull_request_search_pull_requests WHERE time_updated < ?",
			int64(prCutoff)); err != nil {
			return errs.Wrap(errs.DataStoreInaccessible, "prune pull_request_search_pull_requests", err)
		}
		return nil
	})
}

// PruneOrphans deletes leaf entity rows (WorkItem, PullRequest, Definition)
// unreachable from any join table. Run after PruneTTL.
func (c *CacheStore) PruneOrphans(ctx context.Context) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM work_items WHERE id NOT IN (SELECT work_item_id FROM query_work_items)`,
			`DELETE FROM pull_requests WHERE id NOT IN (SELECT pull_request_id FROM pull_request_search_pull_requests)`,
			`DELETE FROM definitions WHERE id NOT IN (SELECT definition_id FROM builds)`,
		}
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return errs.Wrap(errs.DataStoreInaccessible, "prune orphans", err)
			}
		}
		return nil
	})
}

// sortByPriorityThenChangedDesc sorts in place by ascending priority then
// descending changed-date, matching spec §4.3 QueryUpdater tie-break order.
func sortByPriorityThenChangedDesc[T any](items []T, key func(i int) (int, Ticks)) {
	// insertion sort is fine: per-query result sets are small (hundreds, not millions).
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 {
			pi, ti := key(j)
			pj, tj := key(j - 1)
			if pi < pj || (pi == pj && ti > tj) {
				items[j-1], items[j] = items[j], items[j-1]
				j--
			} else {
				break
			}
		}
	}
}
