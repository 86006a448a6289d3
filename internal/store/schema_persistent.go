package store

// persistentSchema is the persistent store's DDL: user-defined search
// definitions, migrated additively across releases (spec §6 "Persisted
// state layout" — "persistent store is migrated (additive)"), never
// rebuilt from scratch. Grounded on the teacher's schema.go table shape.
const persistentSchema = `
CREATE TABLE IF NOT EXISTS query_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    is_top_level BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(url)
);

CREATE TABLE IF NOT EXISTS pull_request_search_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    name TEXT NOT NULL,
    view TEXT NOT NULL,
    is_top_level BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(url, view)
);

CREATE TABLE IF NOT EXISTS definition_search_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    is_top_level BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(url, external_id)
);

CREATE TABLE IF NOT EXISTS project_settings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_url TEXT NOT NULL,
    project_name TEXT NOT NULL,
    UNIQUE(organization_url, project_name)
);
`
