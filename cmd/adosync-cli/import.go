package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azuredevops/cachesync/internal/searchimport"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Bulk-import saved searches from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := searchimport.LoadDocument(args[0])
			if err != nil {
				return err
			}
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			summary := searchimport.Import(cmd.Context(), c, doc)
			fmt.Printf("imported %d queries, %d pull-request searches, %d pipeline searches, %d projects\n",
				summary.Queries, summary.PullRequestSearches, summary.PipelineSearches, summary.Projects)
			for _, e := range summary.Errors {
				fmtr.Warning("%v", e)
			}
			if len(summary.Errors) > 0 {
				return fmt.Errorf("%d entries failed to import", len(summary.Errors))
			}
			return nil
		},
	}
}
