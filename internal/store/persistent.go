package store

import (
	"context"
	"database/sql"

	"github.com/azuredevops/cachesync/internal/errs"
)

// PersistentStore is the persistent half of DataStore (A): user-defined
// search definitions, retained across sign-out and reinstall (spec §3.1).
// It is never rebuilt; schema changes are additive migrations only.
type PersistentStore struct {
	db *sql.DB
}

// OpenPersistentStore opens (or bootstraps) the persistent database at path.
func OpenPersistentStore(ctx context.Context, path string) (*PersistentStore, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, persistentSchema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.DataStoreInaccessible, "bootstrap persistent schema", err)
	}
	return &PersistentStore{db: db}, nil
}

// Close releases the underlying connection.
func (p *PersistentStore) Close() error { return p.db.Close() }

// --- QueryDef ---

// GetAllQueryDefs returns persisted query definitions, optionally filtered
// to the ones the user pinned to the top level.
func (p *PersistentStore) GetAllQueryDefs(ctx context.Context, topLevelOnly bool) ([]QueryDef, error) {
	query := "SELECT id, name, url, is_top_level FROM query_defs"
	if topLevelOnly {
		query += " WHERE is_top_level = 1"
	}
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list query defs", err)
	}
	defer rows.Close()

	var out []QueryDef
	for rows.Next() {
		var d QueryDef
		if err := rows.Scan(&d.ID, &d.Name, &d.URL, &d.IsTopLevel); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan query def", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddOrUpdateQueryDef upserts a definition by its natural key (url).
func (p *PersistentStore) AddOrUpdateQueryDef(ctx context.Context, d QueryDef) (*QueryDef, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO query_defs (name, url, is_top_level) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET name = excluded.name, is_top_level = excluded.is_top_level`,
		d.Name, d.URL, d.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "add/update query def", err)
	}
	var out QueryDef
	err = p.db.QueryRowContext(ctx, "SELECT id, name, url, is_top_level FROM query_defs WHERE url = ?", d.URL).
		Scan(&out.ID, &out.Name, &out.URL, &out.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get query def", err)
	}
	return &out, nil
}

// RemoveQueryDef deletes a definition by id, failing with NotFound if absent.
func (p *PersistentStore) RemoveQueryDef(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM query_defs WHERE id = ?", id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "remove query def", err)
	}
	return requireAffected(res, "query def")
}

// SetQueryDefTopLevel updates the is_top_level flag for a definition.
func (p *PersistentStore) SetQueryDefTopLevel(ctx context.Context, id int64, top bool) error {
	res, err := p.db.ExecContext(ctx, "UPDATE query_defs SET is_top_level = ? WHERE id = ?", top, id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "set query def top level", err)
	}
	return requireAffected(res, "query def")
}

// --- PullRequestSearchDef ---

// GetAllPullRequestSearchDefs returns persisted PR search definitions.
func (p *PersistentStore) GetAllPullRequestSearchDefs(ctx context.Context, topLevelOnly bool) ([]PullRequestSearchDef, error) {
	query := "SELECT id, url, name, view, is_top_level FROM pull_request_search_defs"
	if topLevelOnly {
		query += " WHERE is_top_level = 1"
	}
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list pr search defs", err)
	}
	defer rows.Close()

	var out []PullRequestSearchDef
	for rows.Next() {
		var d PullRequestSearchDef
		var view string
		if err := rows.Scan(&d.ID, &d.URL, &d.Name, &view, &d.IsTopLevel); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan pr search def", err)
		}
		d.View = PullRequestSearchView(view)
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddOrUpdatePullRequestSearchDef upserts a definition by (url, view).
func (p *PersistentStore) AddOrUpdatePullRequestSearchDef(ctx context.Context, d PullRequestSearchDef) (*PullRequestSearchDef, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pull_request_search_defs (url, name, view, is_top_level) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url, view) DO UPDATE SET name = excluded.name, is_top_level = excluded.is_top_level`,
		d.URL, d.Name, string(d.View), d.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "add/update pr search def", err)
	}
	var out PullRequestSearchDef
	var view string
	err = p.db.QueryRowContext(ctx,
		"SELECT id, url, name, view, is_top_level FROM pull_request_search_defs WHERE url = ? AND view = ?",
		d.URL, string(d.View)).Scan(&out.ID, &out.URL, &out.Name, &view, &out.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get pr search def", err)
	}
	out.View = PullRequestSearchView(view)
	return &out, nil
}

// RemovePullRequestSearchDef deletes a definition by id.
func (p *PersistentStore) RemovePullRequestSearchDef(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM pull_request_search_defs WHERE id = ?", id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "remove pr search def", err)
	}
	return requireAffected(res, "pull request search def")
}

// SetPullRequestSearchDefTopLevel updates the is_top_level flag.
func (p *PersistentStore) SetPullRequestSearchDefTopLevel(ctx context.Context, id int64, top bool) error {
	res, err := p.db.ExecContext(ctx, "UPDATE pull_request_search_defs SET is_top_level = ? WHERE id = ?", top, id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "set pr search def top level", err)
	}
	return requireAffected(res, "pull request search def")
}

// --- DefinitionSearchDef (pipeline searches) ---

// GetAllDefinitionSearchDefs returns persisted pipeline search definitions.
func (p *PersistentStore) GetAllDefinitionSearchDefs(ctx context.Context, topLevelOnly bool) ([]DefinitionSearchDef, error) {
	query := "SELECT id, name, external_id, url, is_top_level FROM definition_search_defs"
	if topLevelOnly {
		query += " WHERE is_top_level = 1"
	}
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list definition search defs", err)
	}
	defer rows.Close()

	var out []DefinitionSearchDef
	for rows.Next() {
		var d DefinitionSearchDef
		if err := rows.Scan(&d.ID, &d.Name, &d.ExternalID, &d.URL, &d.IsTopLevel); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan definition search def", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddOrUpdateDefinitionSearchDef upserts a definition by (url, externalId).
func (p *PersistentStore) AddOrUpdateDefinitionSearchDef(ctx context.Context, d DefinitionSearchDef) (*DefinitionSearchDef, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO definition_search_defs (name, external_id, url, is_top_level) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url, external_id) DO UPDATE SET name = excluded.name, is_top_level = excluded.is_top_level`,
		d.Name, d.ExternalID, d.URL, d.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "add/update definition search def", err)
	}
	var out DefinitionSearchDef
	err = p.db.QueryRowContext(ctx,
		"SELECT id, name, external_id, url, is_top_level FROM definition_search_defs WHERE url = ? AND external_id = ?",
		d.URL, d.ExternalID).Scan(&out.ID, &out.Name, &out.ExternalID, &out.URL, &out.IsTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get definition search def", err)
	}
	return &out, nil
}

// RemoveDefinitionSearchDef deletes a definition by id.
func (p *PersistentStore) RemoveDefinitionSearchDef(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM definition_search_defs WHERE id = ?", id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "remove definition search def", err)
	}
	return requireAffected(res, "definition search def")
}

// SetDefinitionSearchDefTopLevel updates the is_top_level flag.
func (p *PersistentStore) SetDefinitionSearchDefTopLevel(ctx context.Context, id int64, top bool) error {
	res, err := p.db.ExecContext(ctx, "UPDATE definition_search_defs SET is_top_level = ? WHERE id = ?", top, id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "set definition search def top level", err)
	}
	return requireAffected(res, "definition search def")
}

// --- ProjectSettings (implicit MyWorkItems searches) ---

// GetAllProjectSettings returns every project the user has explicitly
// configured, each implicitly defining a MyWorkItems search.
func (p *PersistentStore) GetAllProjectSettings(ctx context.Context) ([]ProjectSettings, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT id, organization_url, project_name FROM project_settings")
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "list project settings", err)
	}
	defer rows.Close()

	var out []ProjectSettings
	for rows.Next() {
		var s ProjectSettings
		if err := rows.Scan(&s.ID, &s.OrganizationURL, &s.ProjectName); err != nil {
			return nil, errs.Wrap(errs.DataStoreInaccessible, "scan project settings", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddOrUpdateProjectSettings upserts by (organizationUrl, projectName).
func (p *PersistentStore) AddOrUpdateProjectSettings(ctx context.Context, s ProjectSettings) (*ProjectSettings, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO project_settings (organization_url, project_name) VALUES (?, ?)
		 ON CONFLICT(organization_url, project_name) DO NOTHING`,
		s.OrganizationURL, s.ProjectName)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "add/update project settings", err)
	}
	var out ProjectSettings
	err = p.db.QueryRowContext(ctx,
		"SELECT id, organization_url, project_name FROM project_settings WHERE organization_url = ? AND project_name = ?",
		s.OrganizationURL, s.ProjectName).Scan(&out.ID, &out.OrganizationURL, &out.ProjectName)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreInaccessible, "get project settings", err)
	}
	return &out, nil
}

// RemoveProjectSettings deletes a row by id.
func (p *PersistentStore) RemoveProjectSettings(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM project_settings WHERE id = ?", id)
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "remove project settings", err)
	}
	return requireAffected(res, "project settings")
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.DataStoreInaccessible, "rows affected", err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, what)
	}
	return nil
}
