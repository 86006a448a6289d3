// Package account declares the AccountProvider and ConnectionProvider
// collaborator contracts (spec §6): credential acquisition and connection
// pooling are out of scope for this core (spec §1 non-goals), so both are
// narrow interfaces the CLI/MCP entry points satisfy with a concrete
// implementation of their own.
package account

import "context"

// Identity is the minimal signed-in-user shape the cache-and-sync core needs.
type Identity struct {
	LoginID string
	Name    string
}

// Provider answers "who is signed in" and exposes sign-in/out actions.
// SignIn/SignOut publish no events; cachesync.Client.SignOut calls SignOut
// and then clears the cache itself.
type Provider interface {
	IsSignedIn(ctx context.Context) bool
	GetDefaultAccount(ctx context.Context) (Identity, error)
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// Connection is an opaque, pooled handle to an organization; its only use
// here is being threaded through to liveclient.Client calls that need it.
type Connection struct {
	OrganizationURI string
	Account         string
}

// ConnectionProvider resolves and pools connections keyed by
// (organizationUri, account), per spec §5 "Shared resources".
type ConnectionProvider interface {
	GetConnection(ctx context.Context, orgURI, account string) (Connection, error)
}
