package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/azuredevops/cachesync"
	"github.com/azuredevops/cachesync/internal/cachemanager"
	"github.com/azuredevops/cachesync/internal/output"
	"github.com/azuredevops/cachesync/internal/store"
	"github.com/azuredevops/cachesync/internal/updater"
)

var (
	configPath   string
	outputFormat string
	username     string
	orgURI       string

	cfg  *cachesync.Config
	fmtr *output.Formatter
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "adosync-cli",
		Short: "Cache and sync Azure DevOps work items, pull requests, and builds",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := cachesync.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			fmtr = output.NewFormatter(output.Format(outputFormat))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", string(output.FormatHuman), "output format: human, text, json")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", envOr("ADOSYNC_USER", "default"), "signed-in user id")
	rootCmd.PersistentFlags().StringVar(&orgURI, "org", envOr("ADOSYNC_ORG", "https://dev.azure.com/myorg"), "organization URI")

	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(addQueryCmd())
	rootCmd.AddCommand(addPullRequestSearchCmd())
	rootCmd.AddCommand(addPipelineSearchCmd())
	rootCmd.AddCommand(addProjectCmd())
	rootCmd.AddCommand(listQueriesCmd())
	rootCmd.AddCommand(listPullRequestSearchesCmd())
	rootCmd.AddCommand(listPipelineSearchesCmd())
	rootCmd.AddCommand(listProjectsCmd())
	rootCmd.AddCommand(workItemsCmd())
	rootCmd.AddCommand(pullRequestsCmd())
	rootCmd.AddCommand(buildsCmd())
	rootCmd.AddCommand(myWorkItemsCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(signOutCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openClient wires a cachesync.Client for the duration of one command
// invocation, the way cmd/herald's per-command handlers opened a
// *storage.Store. Credential acquisition and the concrete remote wire
// format are assumed already solved upstream of this process (spec §1
// non-goals); stubClient and staticAccounts are the integration seam a
// real deployment replaces with its own LiveClient/account broker.
func openClient(ctx context.Context) (*cachesync.Client, error) {
	return cachesync.Open(ctx, cfg, stubClient{}, newStaticAccounts(username), staticConnections{}, username)
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = "./config/config.yaml"
			}
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			data, err := yaml.Marshal(cachesync.DefaultConfig())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}

func addQueryCmd() *cobra.Command {
	var name, url string
	var topLevel bool
	cmd := &cobra.Command{
		Use:   "add-query",
		Short: "Add or update a saved work-item query search",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := c.Queries.AddOrUpdate(cmd.Context(), store.QueryDef{Name: name, URL: url, IsTopLevel: topLevel})
			if err != nil {
				return err
			}
			fmt.Printf("saved query %q (id=%d)\n", def.Name, def.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&url, "url", "", "work-item query URL")
	cmd.Flags().BoolVar(&topLevel, "top-level", true, "show in the top-level search list")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	return cmd
}

func addPullRequestSearchCmd() *cobra.Command {
	var name, url, view string
	var topLevel bool
	cmd := &cobra.Command{
		Use:   "add-pr-search",
		Short: "Add or update a pull-request search",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := c.PullRequests.AddOrUpdate(cmd.Context(), store.PullRequestSearchDef{
				Name: name, URL: url, View: store.PullRequestSearchView(view), IsTopLevel: topLevel,
			})
			if err != nil {
				return err
			}
			fmt.Printf("saved pull-request search %q (id=%d)\n", def.Name, def.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&url, "url", "", "repository URL")
	cmd.Flags().StringVar(&view, "view", string(store.ViewMine), "Mine, Assigned, or All")
	cmd.Flags().BoolVar(&topLevel, "top-level", true, "show in the top-level search list")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	return cmd
}

func addPipelineSearchCmd() *cobra.Command {
	var name, url string
	var externalID int
	var topLevel bool
	cmd := &cobra.Command{
		Use:   "add-pipeline-search",
		Short: "Add or update a pipeline-definition search",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := c.Pipelines.AddOrUpdate(cmd.Context(), store.DefinitionSearchDef{
				Name: name, URL: url, ExternalID: externalID, IsTopLevel: topLevel,
			})
			if err != nil {
				return err
			}
			fmt.Printf("saved pipeline search %q (id=%d)\n", def.Name, def.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&url, "url", "", "build definition URL")
	cmd.Flags().IntVar(&externalID, "definition-id", 0, "remote build definition id")
	cmd.Flags().BoolVar(&topLevel, "top-level", true, "show in the top-level search list")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("definition-id")
	return cmd
}

func addProjectCmd() *cobra.Command {
	var orgURL, project string
	cmd := &cobra.Command{
		Use:   "add-project",
		Short: "Register a project for the \"my work items\" search",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			settings, err := c.Projects.AddOrUpdate(cmd.Context(), store.ProjectSettings{OrganizationURL: orgURL, ProjectName: project})
			if err != nil {
				return err
			}
			fmt.Printf("registered project %q (id=%d)\n", settings.ProjectName, settings.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgURL, "org-url", "", "organization URL")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.MarkFlagRequired("org-url")
	cmd.MarkFlagRequired("project")
	return cmd
}

func listQueriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-queries",
		Short: "List saved work-item queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			defs, err := c.Queries.GetAll(cmd.Context(), false)
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Printf("%d\t%s\t%s\n", d.ID, d.Name, d.URL)
			}
			return nil
		},
	}
}

func listPullRequestSearchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-pr-searches",
		Short: "List saved pull-request searches",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			defs, err := c.PullRequests.GetAll(cmd.Context(), false)
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Printf("%d\t%s\t%s\t%s\n", d.ID, d.Name, d.View, d.URL)
			}
			return nil
		},
	}
}

func listPipelineSearchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-pipeline-searches",
		Short: "List saved pipeline-definition searches",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			defs, err := c.Pipelines.GetAll(cmd.Context(), false)
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Printf("%d\t%s\t%d\t%s\n", d.ID, d.Name, d.ExternalID, d.URL)
			}
			return nil
		},
	}
}

func listProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-projects",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			settings, err := c.Projects.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range settings {
				fmt.Printf("%d\t%s\t%s\n", s.ID, s.ProjectName, s.OrganizationURL)
			}
			return nil
		},
	}
}

func findQueryByName(cmd *cobra.Command, c *cachesync.Client, name string) (*store.QueryDef, error) {
	defs, err := c.Queries.GetAll(cmd.Context(), false)
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

func findPullRequestSearchByName(cmd *cobra.Command, c *cachesync.Client, name string) (*store.PullRequestSearchDef, error) {
	defs, err := c.PullRequests.GetAll(cmd.Context(), false)
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

func findPipelineSearchByName(cmd *cobra.Command, c *cachesync.Client, name string) (*store.DefinitionSearchDef, error) {
	defs, err := c.Pipelines.GetAll(cmd.Context(), false)
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

func workItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work-items <query-name>",
		Short: "Print the cached work items for a saved query, refreshing as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := findQueryByName(cmd, c, args[0])
			if err != nil {
				return err
			}
			items, err := c.GetQueryWorkItems(cmd.Context(), *def)
			if err != nil {
				return err
			}
			return fmtr.OutputWorkItems(items)
		},
	}
}

func pullRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull-requests <search-name>",
		Short: "Print the cached pull requests for a saved search, refreshing as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := findPullRequestSearchByName(cmd, c, args[0])
			if err != nil {
				return err
			}
			prs, err := c.GetPullRequests(cmd.Context(), *def)
			if err != nil {
				return err
			}
			return fmtr.OutputPullRequests(prs)
		},
	}
}

func buildsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builds <search-name>",
		Short: "Print the cached build history for a saved pipeline search, refreshing as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			def, err := findPipelineSearchByName(cmd, c, args[0])
			if err != nil {
				return err
			}
			builds, err := c.GetBuilds(cmd.Context(), *def)
			if err != nil {
				return err
			}
			return fmtr.OutputBuilds(builds)
		},
	}
}

func myWorkItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "my-work-items <project-name>",
		Short: "Print cached work items assigned to the signed-in user in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			settings, err := c.Projects.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range settings {
				if s.ProjectName == args[0] {
					items, err := c.GetMyWorkItems(cmd.Context(), s)
					if err != nil {
						return err
					}
					return fmtr.OutputWorkItems(items)
				}
			}
			return fmt.Errorf("no registered project named %q", args[0])
		},
	}
}

func refreshCmd() *cobra.Command {
	var kind, name string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Request an out-of-band sync for one saved search",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			search, err := resolveSearch(cmd, c, kind, name)
			if err != nil {
				return err
			}
			c.Refresh(cmd.Context(), search)
			fmt.Println("refresh requested")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "query, pr, pipeline, or my-work-items")
	cmd.Flags().StringVar(&name, "name", "", "saved search name (or project name for my-work-items)")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("name")
	return cmd
}

func resolveSearch(cmd *cobra.Command, c *cachesync.Client, kind, name string) (updater.Search, error) {
	switch kind {
	case "query":
		def, err := findQueryByName(cmd, c, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewQuerySearch(*def), nil
	case "pr":
		def, err := findPullRequestSearchByName(cmd, c, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewPullRequestSearch(*def), nil
	case "pipeline":
		def, err := findPipelineSearchByName(cmd, c, name)
		if err != nil {
			return updater.Search{}, err
		}
		return updater.NewPipelineSearch(*def), nil
	case "my-work-items":
		settings, err := c.Projects.GetAll(cmd.Context())
		if err != nil {
			return updater.Search{}, err
		}
		for _, s := range settings {
			if s.ProjectName == name {
				return updater.NewMyWorkItemsSearch(s), nil
			}
		}
		return updater.Search{}, fmt.Errorf("no registered project named %q", name)
	default:
		return updater.Search{}, fmt.Errorf("unknown search kind %q (want query, pr, pipeline, or my-work-items)", kind)
	}
}

func signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-out",
		Short: "Sign out and purge every cached row",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			// The purge runs on the CacheManager's goroutine; wait for its
			// terminal event so the deferred Close cannot cut it short.
			purged := make(chan cachemanager.OnUpdateEvent, 1)
			unsubscribe := c.OnUpdate().Subscribe(func(ev cachemanager.OnUpdateEvent) {
				select {
				case purged <- ev:
				default:
				}
			})
			defer unsubscribe()
			if err := c.SignOut(cmd.Context()); err != nil {
				return err
			}
			if ev := <-purged; ev.Err != nil {
				return fmt.Errorf("signed out, but clearing the cache failed: %w", ev.Err)
			}
			fmt.Println("signed out; cache cleared")
			return nil
		},
	}
}
