// adosync-mcp is a standalone MCP server exposing the cache-and-sync core's
// saved searches and cached rows as tools, grounded on cmd/herald-mcp's
// role (a per-purpose MCP server reading a local database) but built on
// github.com/modelcontextprotocol/go-sdk's server instead of hand-rolling
// the JSON-RPC framing herald-mcp does, since the SDK is already part of
// the teacher's own dependency set.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/azuredevops/cachesync"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to config file")
	user := flag.String("user", envOr("ADOSYNC_USER", "default"), "signed-in user id")
	flag.Parse()

	cfg, err := cachesync.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	client, err := cachesync.Open(ctx, cfg, stubClient{}, newStaticAccounts(*user), staticConnections{}, *user)
	if err != nil {
		log.Fatalf("open cachesync client: %v", err)
	}
	defer client.Close()
	client.Start()
	defer client.Stop()

	srv := newServer(client)
	if err := srv.run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
