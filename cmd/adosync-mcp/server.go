package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/azuredevops/cachesync"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

// server wraps a cachesync.Client behind the MCP tool surface.
type server struct {
	client *cachesync.Client
}

func newServer(client *cachesync.Client) *server {
	return &server{client: client}
}

func (s *server) run(ctx context.Context) error {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "adosync", Version: "0.1.0"}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "searches_list",
		Description: "List every saved search: work-item queries, pull-request searches, pipeline searches, and registered projects.",
	}, s.handleSearchesList)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "work_items",
		Description: "Get the cached work items for a saved query by name, refreshing from Azure DevOps if the cache is cold.",
	}, s.handleWorkItems)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "pull_requests",
		Description: "Get the cached pull requests for a saved search by name, refreshing if the cache is cold.",
	}, s.handlePullRequests)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "builds",
		Description: "Get the cached build history for a saved pipeline search by name, refreshing if the cache is cold.",
	}, s.handleBuilds)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "my_work_items",
		Description: "Get cached work items assigned to the signed-in user in a registered project.",
	}, s.handleMyWorkItems)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "refresh",
		Description: "Request an out-of-band sync for one saved search, subject to the refresh cooldown.",
	}, s.handleRefresh)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "sign_out",
		Description: "Sign out and purge every cached row.",
	}, s.handleSignOut)

	return mcpServer.Run(ctx, &mcp.StdioTransport{})
}

type searchesListParams struct{}

type searchSummary struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (s *server) handleSearchesList(ctx context.Context, req *mcp.CallToolRequest, params searchesListParams) (*mcp.CallToolResult, any, error) {
	var out []searchSummary

	queries, err := s.client.Queries.GetAll(ctx, false)
	if err != nil {
		return errResult(err), nil, nil
	}
	for _, d := range queries {
		out = append(out, searchSummary{Kind: "query", Name: d.Name})
	}

	prs, err := s.client.PullRequests.GetAll(ctx, false)
	if err != nil {
		return errResult(err), nil, nil
	}
	for _, d := range prs {
		out = append(out, searchSummary{Kind: "pull_requests", Name: d.Name})
	}

	pipelines, err := s.client.Pipelines.GetAll(ctx, false)
	if err != nil {
		return errResult(err), nil, nil
	}
	for _, d := range pipelines {
		out = append(out, searchSummary{Kind: "pipeline", Name: d.Name})
	}

	projects, err := s.client.Projects.GetAll(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}
	for _, p := range projects {
		out = append(out, searchSummary{Kind: "my_work_items", Name: p.ProjectName})
	}

	return jsonResult(out), out, nil
}

type workItemsParams struct {
	QueryName string `json:"query_name" jsonschema:"the saved query's display name"`
}

func (s *server) handleWorkItems(ctx context.Context, req *mcp.CallToolRequest, params workItemsParams) (*mcp.CallToolResult, any, error) {
	def, err := s.findQuery(ctx, params.QueryName)
	if err != nil {
		return errResult(err), nil, nil
	}
	items, err := s.client.GetQueryWorkItems(ctx, *def)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(items), items, nil
}

type pullRequestsParams struct {
	SearchName string `json:"search_name" jsonschema:"the saved pull-request search's display name"`
}

func (s *server) handlePullRequests(ctx context.Context, req *mcp.CallToolRequest, params pullRequestsParams) (*mcp.CallToolResult, any, error) {
	def, err := s.findPullRequestSearch(ctx, params.SearchName)
	if err != nil {
		return errResult(err), nil, nil
	}
	prs, err := s.client.GetPullRequests(ctx, *def)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(prs), prs, nil
}

type buildsParams struct {
	SearchName string `json:"search_name" jsonschema:"the saved pipeline search's display name"`
}

func (s *server) handleBuilds(ctx context.Context, req *mcp.CallToolRequest, params buildsParams) (*mcp.CallToolResult, any, error) {
	def, err := s.findPipelineSearch(ctx, params.SearchName)
	if err != nil {
		return errResult(err), nil, nil
	}
	builds, err := s.client.GetBuilds(ctx, *def)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(builds), builds, nil
}

type myWorkItemsParams struct {
	ProjectName string `json:"project_name" jsonschema:"the registered project's name"`
}

func (s *server) handleMyWorkItems(ctx context.Context, req *mcp.CallToolRequest, params myWorkItemsParams) (*mcp.CallToolResult, any, error) {
	projects, err := s.client.Projects.GetAll(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}
	for _, p := range projects {
		if p.ProjectName == params.ProjectName {
			items, err := s.client.GetMyWorkItems(ctx, p)
			if err != nil {
				return errResult(err), nil, nil
			}
			return jsonResult(items), items, nil
		}
	}
	return errResult(fmt.Errorf("no registered project named %q", params.ProjectName)), nil, nil
}

type refreshParams struct {
	Kind string `json:"kind" jsonschema:"query, pull_requests, pipeline, or my_work_items"`
	Name string `json:"name" jsonschema:"the saved search's display name, or project name for my_work_items"`
}

func (s *server) handleRefresh(ctx context.Context, req *mcp.CallToolRequest, params refreshParams) (*mcp.CallToolResult, any, error) {
	search, err := s.resolveSearch(ctx, params.Kind, params.Name)
	if err != nil {
		return errResult(err), nil, nil
	}
	s.client.Refresh(ctx, search)
	return textResult("refresh requested for " + search.Key()), nil, nil
}

type signOutParams struct{}

func (s *server) handleSignOut(ctx context.Context, req *mcp.CallToolRequest, params signOutParams) (*mcp.CallToolResult, any, error) {
	if err := s.client.SignOut(ctx); err != nil {
		return errResult(err), nil, nil
	}
	return textResult("signed out; cache cleared"), nil, nil
}

func (s *server) findQuery(ctx context.Context, name string) (*store.QueryDef, error) {
	defs, err := s.client.Queries.GetAll(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("no saved query named %q", name)
}

func (s *server) findPullRequestSearch(ctx context.Context, name string) (*store.PullRequestSearchDef, error) {
	defs, err := s.client.PullRequests.GetAll(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("no saved pull-request search named %q", name)
}

func (s *server) findPipelineSearch(ctx context.Context, name string) (*store.DefinitionSearchDef, error) {
	defs, err := s.client.Pipelines.GetAll(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("no saved pipeline search named %q", name)
}

func (s *server) resolveSearch(ctx context.Context, kind, name string) (updater.Search, error) {
	switch kind {
	case "query":
		def, err := s.findQuery(ctx, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewQuerySearch(*def), nil
	case "pull_requests":
		def, err := s.findPullRequestSearch(ctx, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewPullRequestSearch(*def), nil
	case "pipeline":
		def, err := s.findPipelineSearch(ctx, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewPipelineSearch(*def), nil
	case "my_work_items":
		projects, err := s.client.Projects.GetAll(ctx)
		if err != nil {
			return updater.Search{}, err
		}
		for _, p := range projects {
			if p.ProjectName == name {
				return updater.NewMyWorkItemsSearch(p), nil
			}
		}
		return updater.Search{}, fmt.Errorf("no registered project named %q", name)
	default:
		return updater.Search{}, fmt.Errorf("unknown search kind %q", kind)
	}
}
