package store

import (
	"context"
	"strings"

	"github.com/azuredevops/cachesync/internal/errs"
)

// Validator validates a definition's URL (and implicitly its reachability)
// before it is persisted. Component B delegates to this interface rather
// than parsing URLs itself (spec §4.2 "Validation... is delegated to an
// injected validator and run at addOrUpdate").
type Validator interface {
	ValidateURL(ctx context.Context, url string) error
}

// QueryDefRepository is the SearchDefinitionRepository (B) variant for
// work-item query definitions.
type QueryDefRepository struct {
	store     *PersistentStore
	validator Validator
}

func NewQueryDefRepository(s *PersistentStore, v Validator) *QueryDefRepository {
	return &QueryDefRepository{store: s, validator: v}
}

func (r *QueryDefRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]QueryDef, error) {
	return r.store.GetAllQueryDefs(ctx, topLevelOnly)
}

func (r *QueryDefRepository) AddOrUpdate(ctx context.Context, d QueryDef) (*QueryDef, error) {
	if err := r.validator.ValidateURL(ctx, d.URL); err != nil {
		return nil, errs.Wrap(errs.Validation, "query def url", err)
	}
	return r.store.AddOrUpdateQueryDef(ctx, d)
}

func (r *QueryDefRepository) Remove(ctx context.Context, id int64) error {
	return r.store.RemoveQueryDef(ctx, id)
}

func (r *QueryDefRepository) SetIsTopLevel(ctx context.Context, id int64, top bool) error {
	return r.store.SetQueryDefTopLevel(ctx, id, top)
}

// PullRequestSearchDefRepository is the SearchDefinitionRepository (B)
// variant for pull-request search definitions.
type PullRequestSearchDefRepository struct {
	store     *PersistentStore
	validator Validator
}

func NewPullRequestSearchDefRepository(s *PersistentStore, v Validator) *PullRequestSearchDefRepository {
	return &PullRequestSearchDefRepository{store: s, validator: v}
}

func (r *PullRequestSearchDefRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]PullRequestSearchDef, error) {
	return r.store.GetAllPullRequestSearchDefs(ctx, topLevelOnly)
}

func (r *PullRequestSearchDefRepository) AddOrUpdate(ctx context.Context, d PullRequestSearchDef) (*PullRequestSearchDef, error) {
	if d.View != ViewMine && d.View != ViewAssigned && d.View != ViewAll {
		return nil, errs.New(errs.Validation, "unknown pull request search view: "+string(d.View))
	}
	if err := r.validator.ValidateURL(ctx, d.URL); err != nil {
		return nil, errs.Wrap(errs.Validation, "pull request search def url", err)
	}
	return r.store.AddOrUpdatePullRequestSearchDef(ctx, d)
}

func (r *PullRequestSearchDefRepository) Remove(ctx context.Context, id int64) error {
	return r.store.RemovePullRequestSearchDef(ctx, id)
}

func (r *PullRequestSearchDefRepository) SetIsTopLevel(ctx context.Context, id int64, top bool) error {
	return r.store.SetPullRequestSearchDefTopLevel(ctx, id, top)
}

// DefinitionSearchDefRepository is the SearchDefinitionRepository (B)
// variant for pipeline-definition search definitions.
type DefinitionSearchDefRepository struct {
	store     *PersistentStore
	validator Validator
}

func NewDefinitionSearchDefRepository(s *PersistentStore, v Validator) *DefinitionSearchDefRepository {
	return &DefinitionSearchDefRepository{store: s, validator: v}
}

func (r *DefinitionSearchDefRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]DefinitionSearchDef, error) {
	return r.store.GetAllDefinitionSearchDefs(ctx, topLevelOnly)
}

func (r *DefinitionSearchDefRepository) AddOrUpdate(ctx context.Context, d DefinitionSearchDef) (*DefinitionSearchDef, error) {
	if err := r.validator.ValidateURL(ctx, d.URL); err != nil {
		return nil, errs.Wrap(errs.Validation, "definition search def url", err)
	}
	return r.store.AddOrUpdateDefinitionSearchDef(ctx, d)
}

func (r *DefinitionSearchDefRepository) Remove(ctx context.Context, id int64) error {
	return r.store.RemoveDefinitionSearchDef(ctx, id)
}

func (r *DefinitionSearchDefRepository) SetIsTopLevel(ctx context.Context, id int64, top bool) error {
	return r.store.SetDefinitionSearchDefTopLevel(ctx, id, top)
}

// ProjectSettingsRepository is the SearchDefinitionRepository (B) variant
// for the implicit "my work items" search. It has no url of its own; the
// organization URL joined with the project name is what gets validated.
type ProjectSettingsRepository struct {
	store     *PersistentStore
	validator Validator
}

func NewProjectSettingsRepository(s *PersistentStore, v Validator) *ProjectSettingsRepository {
	return &ProjectSettingsRepository{store: s, validator: v}
}

func (r *ProjectSettingsRepository) GetAll(ctx context.Context) ([]ProjectSettings, error) {
	return r.store.GetAllProjectSettings(ctx)
}

func (r *ProjectSettingsRepository) AddOrUpdate(ctx context.Context, s ProjectSettings) (*ProjectSettings, error) {
	if err := r.validator.ValidateURL(ctx, strings.TrimRight(s.OrganizationURL, "/")+"/"+s.ProjectName); err != nil {
		return nil, errs.Wrap(errs.Validation, "project settings organization url", err)
	}
	return r.store.AddOrUpdateProjectSettings(ctx, s)
}

func (r *ProjectSettingsRepository) Remove(ctx context.Context, id int64) error {
	return r.store.RemoveProjectSettings(ctx, id)
}
