package cachesync

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/azuredevops/cachesync/internal/errs"
)

// Config carries every operator-tunable knob named in spec §6
// ("Configuration knobs"), grounded on the teacher's internal/storage.Config
// (a single flat-ish YAML document with nested sections per concern) and
// loaded the same way: yaml.Unmarshal over a DefaultConfig() base so a
// partial file only overrides what it names.
type Config struct {
	Database struct {
		CachePath      string `yaml:"cache_path"`
		PersistentPath string `yaml:"persistent_path"`
	} `yaml:"database"`

	Timing struct {
		PeriodicInterval time.Duration `yaml:"periodic_interval"`
		RefreshCooldown  time.Duration `yaml:"refresh_cooldown"`
	} `yaml:"timing"`

	Sync struct {
		WorkItemBatchSize               int           `yaml:"work_item_batch_size"`
		QueryWorkItemTTL                time.Duration `yaml:"query_work_item_ttl"`
		MyWorkItemsQueryWorkItemTTL     time.Duration `yaml:"my_work_items_query_work_item_ttl"` // not read by Open: my-work-items always uses the fixed myworkitems.TTL (2m)
		PullRequestSearchPullRequestTTL time.Duration `yaml:"pull_request_search_pull_request_ttl"`
		DefinitionRefreshThrottle       time.Duration `yaml:"definition_refresh_throttle"`
		BuildRetention                  time.Duration `yaml:"build_retention"`
	} `yaml:"sync"`

	// PolicyOverridePath optionally points at a policy.toml reweighting
	// pull-request policy-evaluation severities (internal/updater/pullrequest).
	PolicyOverridePath string `yaml:"policy_override_path,omitempty"`
}

// DefaultConfig returns the spec's default timing/retention knobs (§6).
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.CachePath = "./cache.db"
	cfg.Database.PersistentPath = "./searches.db"
	cfg.Timing.PeriodicInterval = 10 * time.Minute
	cfg.Timing.RefreshCooldown = 3 * time.Minute
	cfg.Sync.WorkItemBatchSize = 200
	cfg.Sync.QueryWorkItemTTL = 7 * 24 * time.Hour
	cfg.Sync.MyWorkItemsQueryWorkItemTTL = 2 * time.Minute
	cfg.Sync.PullRequestSearchPullRequestTTL = 24 * time.Hour
	cfg.Sync.DefinitionRefreshThrottle = 4 * time.Hour
	cfg.Sync.BuildRetention = 7 * 24 * time.Hour
	return cfg
}

// LoadConfig reads path as YAML over a DefaultConfig() base. A missing file
// is not an error — it just means every default applies.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "read config", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.Validation, "parse config", err)
	}
	return cfg, nil
}
