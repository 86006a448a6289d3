package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/azuredevops/cachesync/internal/cachemanager"
	"github.com/azuredevops/cachesync/internal/output"
)

// watchCmd streams every CacheManager terminal event until interrupted,
// grounded on the teacher's daemon.go signal-handling shape but driving
// an event subscription instead of a fetch loop.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream sync completions as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			unsubscribe := c.OnUpdate().Subscribe(func(ev cachemanager.OnUpdateEvent) {
				out := output.SyncEvent{Kind: string(ev.Kind)}
				if ev.Search != nil {
					out.SearchKey = ev.Search.Key()
				}
				if ev.Err != nil {
					out.Error = ev.Err.Error()
				}
				if err := fmtr.OutputSyncEvent(out); err != nil {
					fmtr.Error("render sync event: %v", err)
				}
			})
			defer unsubscribe()

			c.Start()
			defer c.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			fmt.Println("shutting down")
			return nil
		},
	}
}

// daemonCmd runs the periodic refresh loop in the foreground, logging each
// cycle, until interrupted. The CacheManager already runs its own internal
// ticker (spec §4.5 periodicInterval); this command's own --interval only
// controls how often it calls PruneObsoleteData, which the CacheManager
// does not drive itself (spec §4.3.1 is a separate maintenance pass).
func daemonCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously: periodic sync plus a pruning pass every --interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			c.Start()
			defer c.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			ctx := cmd.Context()
			timer := time.NewTimer(interval)
			defer timer.Stop()

			for {
				select {
				case <-sigCh:
					log.Println("received shutdown signal, exiting")
					return nil
				case <-timer.C:
					log.Println("running prune pass")
					start := time.Now()
					if err := c.PruneObsoleteData(ctx); err != nil {
						log.Printf("prune pass failed: %v", err)
					} else {
						log.Printf("prune pass completed in %s", time.Since(start))
					}
					timer.Reset(interval)
				}
			}
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 30*time.Minute, "pruning pass interval")
	return cmd
}
