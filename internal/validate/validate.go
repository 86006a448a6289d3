// Package validate implements the Validator collaborator contract (spec §6):
// parsing a definition's url into (host-kind, organization, project,
// optional sub-resource) and reporting malformed input as a Validation error.
package validate

import (
	"context"
	"net/url"
	"strings"

	"github.com/azuredevops/cachesync/internal/errs"
)

// HostKind distinguishes the two URL shapes Azure DevOps exposes:
// the legacy "<org>.visualstudio.com" host and the modern
// "dev.azure.com/<org>" path-based host.
type HostKind int

const (
	HostUnknown HostKind = iota
	HostVisualStudio
	HostDevAzure
)

// Info is the parsed, validated shape of a definition url.
type Info struct {
	Kind         HostKind
	Organization string
	Project      string
	SubResource  string // path after the project, e.g. "_git/<repo>", or empty
}

// URLValidator is the default Validator: well-formedness only, no network
// round-trip to confirm project reachability (that would require the
// LiveClient, which is out of this package's scope by design).
type URLValidator struct{}

func NewURLValidator() *URLValidator { return &URLValidator{} }

// ValidateURL reports a Validation error if raw cannot be parsed into Info.
func (v *URLValidator) ValidateURL(_ context.Context, raw string) error {
	_, err := Parse(raw)
	return err
}

// Parse extracts (host-kind, organization, project, sub-resource) from an
// Azure DevOps URL, per spec §3.1 "each definition's url is parseable
// into (host-kind, organization, project, optional sub-resource)".
func Parse(raw string) (Info, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Info{}, errs.Wrap(errs.Validation, "malformed url", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Info{}, errs.New(errs.Validation, "url must be http(s): "+raw)
	}
	host := strings.ToLower(u.Host)
	parts := splitNonEmpty(u.Path, '/')

	switch {
	case strings.HasSuffix(host, ".visualstudio.com"):
		org := strings.TrimSuffix(host, ".visualstudio.com")
		if org == "" {
			return Info{}, errs.New(errs.Validation, "missing organization in host: "+raw)
		}
		if len(parts) == 0 {
			return Info{}, errs.New(errs.Validation, "missing project in path: "+raw)
		}
		info := Info{Kind: HostVisualStudio, Organization: org, Project: parts[0]}
		if len(parts) > 1 {
			info.SubResource = strings.Join(parts[1:], "/")
		}
		return info, nil

	case host == "dev.azure.com":
		if len(parts) < 2 {
			return Info{}, errs.New(errs.Validation, "missing organization/project in path: "+raw)
		}
		info := Info{Kind: HostDevAzure, Organization: parts[0], Project: parts[1]}
		if len(parts) > 2 {
			info.SubResource = strings.Join(parts[2:], "/")
		}
		return info, nil

	default:
		return Info{}, errs.New(errs.Validation, "unrecognized Azure DevOps host: "+host)
	}
}

func splitNonEmpty(path string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == sep {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}
