package store

// cacheSchemaVersion is bumped whenever the cache DDL below changes shape
// in a way that isn't a pure additive column. A mismatch against the
// persisted Metadata row triggers a full rebuild of the cache file
// (spec §4.1 "on mismatch deletes the file and recreates it").
const cacheSchemaVersion = 1

// cacheSchema is the cache store's DDL, grounded on the teacher's
// internal/storage/schema.go layout: one CREATE TABLE IF NOT EXISTS per
// entity, FK ON DELETE CASCADE where the parent fully owns the child, and
// an index per foreign key / TTL scan column.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- search_sync_state tracks, per search natural key (independent of the
-- kind-specific entity schema below), the last time that search's
-- updateData cycle completed successfully. This is what IsNewOrStale and
-- the cold-miss check in LiveDataProvider consult, since a search's
-- natural key (its definition url) is not always recoverable from the
-- remote-external-id-keyed rows it produced.
CREATE TABLE IF NOT EXISTS search_sync_state (
    search_key TEXT PRIMARY KEY,
    time_updated INTEGER NOT NULL,
    ref_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS organizations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    connection TEXT NOT NULL UNIQUE,
    time_updated INTEGER NOT NULL,
    time_last_sync INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    time_updated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_org ON projects(organization_id);

CREATE TABLE IF NOT EXISTS identities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    avatar_blob BLOB,
    login_id TEXT NOT NULL DEFAULT '',
    time_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL,
    project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    clone_url TEXT NOT NULL DEFAULT '',
    is_private BOOLEAN NOT NULL DEFAULT 0,
    time_updated INTEGER NOT NULL,
    UNIQUE(project_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_repositories_project ON repositories(project_id);

CREATE TABLE IF NOT EXISTS queries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    username TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    time_updated INTEGER NOT NULL,
    UNIQUE(external_id, username)
);

CREATE INDEX IF NOT EXISTS idx_queries_project ON queries(project_id);

CREATE TABLE IF NOT EXISTS work_item_types (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    icon TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    UNIQUE(name, project_id)
);

CREATE TABLE IF NOT EXISTS work_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    html_url TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    assigned_to_id INTEGER NOT NULL DEFAULT 0,
    created_date INTEGER NOT NULL DEFAULT 0,
    created_by_id INTEGER NOT NULL DEFAULT 0,
    changed_date INTEGER NOT NULL DEFAULT 0,
    changed_by_id INTEGER NOT NULL DEFAULT 0,
    work_item_type_id INTEGER NOT NULL REFERENCES work_item_types(id)
);

CREATE TABLE IF NOT EXISTS query_work_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id INTEGER NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
    work_item_id INTEGER NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
    time_updated INTEGER NOT NULL,
    UNIQUE(query_id, work_item_id)
);

CREATE INDEX IF NOT EXISTS idx_qwi_query ON query_work_items(query_id);
CREATE INDEX IF NOT EXISTS idx_qwi_work_item ON query_work_items(work_item_id);
CREATE INDEX IF NOT EXISTS idx_qwi_time ON query_work_items(time_updated);

CREATE TABLE IF NOT EXISTS pull_request_searches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    username TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    view_id TEXT NOT NULL,
    time_updated INTEGER NOT NULL,
    UNIQUE(project_id, repository_id, username, view_id)
);

CREATE TABLE IF NOT EXISTS pull_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    creator_id INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT '',
    policy_status TEXT NOT NULL DEFAULT '',
    policy_status_reason TEXT NOT NULL DEFAULT '',
    target_branch TEXT NOT NULL DEFAULT '',
    creation_date INTEGER NOT NULL DEFAULT 0,
    html_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pull_request_search_pull_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    search_id INTEGER NOT NULL REFERENCES pull_request_searches(id) ON DELETE CASCADE,
    pull_request_id INTEGER NOT NULL REFERENCES pull_requests(id) ON DELETE CASCADE,
    time_updated INTEGER NOT NULL,
    UNIQUE(search_id, pull_request_id)
);

CREATE INDEX IF NOT EXISTS idx_prspr_search ON pull_request_search_pull_requests(search_id);
CREATE INDEX IF NOT EXISTS idx_prspr_pr ON pull_request_search_pull_requests(pull_request_id);
CREATE INDEX IF NOT EXISTS idx_prspr_time ON pull_request_search_pull_requests(time_updated);

CREATE TABLE IF NOT EXISTS definitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    creation_date INTEGER NOT NULL DEFAULT 0,
    html_url TEXT NOT NULL DEFAULT '',
    time_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    build_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '',
    queue_time INTEGER NOT NULL DEFAULT 0,
    start_time INTEGER NOT NULL DEFAULT 0,
    finish_time INTEGER NOT NULL DEFAULT 0,
    url TEXT NOT NULL DEFAULT '',
    definition_id INTEGER NOT NULL REFERENCES definitions(id) ON DELETE CASCADE,
    source_branch TEXT NOT NULL DEFAULT '',
    trigger_message TEXT NOT NULL DEFAULT '',
    requester_id INTEGER NOT NULL DEFAULT 0,
    time_updated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_builds_definition ON builds(definition_id);
CREATE INDEX IF NOT EXISTS idx_builds_time ON builds(time_updated);
CREATE INDEX IF NOT EXISTS idx_builds_queue_time ON builds(queue_time DESC);
`
