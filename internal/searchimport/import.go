// Package searchimport implements a bulk YAML importer for saved searches,
// grounded on the teacher's OPML feed import (internal/feeds's former
// fetcher.go: read a document, walk its entries, call the repository's
// AddOrUpdate per entry, and report a summary count) generalized from one
// entry shape (a feed subscription) to the four SearchDefinitionRepository
// kinds this domain has.
package searchimport

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/azuredevops/cachesync"
	"github.com/azuredevops/cachesync/internal/store"
)

// Document is the on-disk shape of a bulk search-definition import file.
type Document struct {
	Queries             []QueryEntry             `yaml:"queries"`
	PullRequestSearches []PullRequestSearchEntry `yaml:"pull_request_searches"`
	PipelineSearches    []PipelineSearchEntry    `yaml:"pipeline_searches"`
	Projects            []ProjectEntry           `yaml:"projects"`
}

type QueryEntry struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	TopLevel bool   `yaml:"top_level"`
}

type PullRequestSearchEntry struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	View     string `yaml:"view"`
	TopLevel bool   `yaml:"top_level"`
}

type PipelineSearchEntry struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	DefinitionID int    `yaml:"definition_id"`
	TopLevel     bool   `yaml:"top_level"`
}

type ProjectEntry struct {
	OrganizationURL string `yaml:"organization_url"`
	ProjectName     string `yaml:"project_name"`
}

// LoadDocument reads and parses a bulk import file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse import document: %w", err)
	}
	return &doc, nil
}

// Summary reports how many entries of each kind were imported, and any
// per-entry failures. A failure on one entry does not stop the rest of
// the document from being processed.
type Summary struct {
	Queries             int
	PullRequestSearches int
	PipelineSearches    int
	Projects            int
	Errors              []error
}

func (s Summary) Total() int {
	return s.Queries + s.PullRequestSearches + s.PipelineSearches + s.Projects
}

// Import walks doc and calls AddOrUpdate on the matching repository for
// every entry, continuing past individual failures so one malformed row
// doesn't abort an otherwise-good batch.
func Import(ctx context.Context, client *cachesync.Client, doc *Document) Summary {
	var summary Summary

	for _, e := range doc.Queries {
		if _, err := client.Queries.AddOrUpdate(ctx, store.QueryDef{
			Name: e.Name, URL: e.URL, IsTopLevel: e.TopLevel,
		}); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("query %q: %w", e.Name, err))
			continue
		}
		summary.Queries++
	}

	for _, e := range doc.PullRequestSearches {
		view := store.PullRequestSearchView(e.View)
		if view == "" {
			view = store.ViewMine
		}
		if _, err := client.PullRequests.AddOrUpdate(ctx, store.PullRequestSearchDef{
			Name: e.Name, URL: e.URL, View: view, IsTopLevel: e.TopLevel,
		}); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("pull request search %q: %w", e.Name, err))
			continue
		}
		summary.PullRequestSearches++
	}

	for _, e := range doc.PipelineSearches {
		if _, err := client.Pipelines.AddOrUpdate(ctx, store.DefinitionSearchDef{
			Name: e.Name, URL: e.URL, ExternalID: e.DefinitionID, IsTopLevel: e.TopLevel,
		}); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("pipeline search %q: %w", e.Name, err))
			continue
		}
		summary.PipelineSearches++
	}

	for _, e := range doc.Projects {
		if _, err := client.Projects.AddOrUpdate(ctx, store.ProjectSettings{
			OrganizationURL: e.OrganizationURL, ProjectName: e.ProjectName,
		}); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("project %q: %w", e.ProjectName, err))
			continue
		}
		summary.Projects++
	}

	return summary
}
