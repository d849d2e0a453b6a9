// Package config provides configuration loading and per-project settings
// resolution for the OpenSprint orchestrator. Configuration is loaded through
// viper from a YAML file with environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete orchestrator configuration.
type Config struct {
	Branch   BranchConfig              `mapstructure:"branch"`
	Merger   MergerConfig              `mapstructure:"merger"`
	Logging  LoggingConfig             `mapstructure:"logging"`
	Paths    PathsConfig               `mapstructure:"paths"`
	Projects map[string]ProjectSection `mapstructure:"projects"`
}

// BranchConfig controls branch naming conventions.
type BranchConfig struct {
	// Prefix is the branch name prefix for task branches (default: "opensprint").
	// Task branches are named <prefix>/<task-id>.
	Prefix string `mapstructure:"prefix"`
}

// MergerConfig controls the secondary conflict-resolution agent.
type MergerConfig struct {
	// Command is the agent command executed inside a conflicted workspace.
	Command string `mapstructure:"command"`
	// Args are additional arguments passed to the agent command.
	Args []string `mapstructure:"args"`
	// TimeoutMinutes bounds a single resolution attempt (0 = no timeout).
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// LoggingConfig controls structured logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
}

// PathsConfig controls where orchestrator state lives on disk.
type PathsConfig struct {
	// DataDir is the root directory for task stores, session archives,
	// scope indexes and counters (default: ~/.local/share/opensprint).
	DataDir string `mapstructure:"data_dir"`
	// WorktreeDir is the base directory for task worktrees
	// (default: <repo>/.opensprint/worktrees).
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// ProjectSection holds per-project overrides as they appear in the config
// file. Zero values mean "not set"; resolution applies defaults.
type ProjectSection struct {
	// GitWorkingMode selects how agent workspaces are laid out:
	// "worktree" (dedicated worktree per task) or "branches" (named
	// branches in the main checkout). Absent means worktree.
	GitWorkingMode string `mapstructure:"git_working_mode"`
	// RepoPath is the project's shared repository path.
	RepoPath string `mapstructure:"repo_path"`

	Deployment DeploymentSettings `mapstructure:"deployment"`
	Agents     AgentSettings      `mapstructure:"agents"`
}

// DeploymentSettings controls delivery automation triggered on merge.
type DeploymentSettings struct {
	// AutoTrigger starts the delivery pipeline after a successful merge.
	AutoTrigger bool `mapstructure:"auto_trigger"`
	// Environment is the target environment for auto-triggered deploys.
	Environment string `mapstructure:"environment"`
}

// AgentSettings configures the coding and merger agents for a project.
type AgentSettings struct {
	// CoderModel is the model used by primary coding agents.
	CoderModel string `mapstructure:"coder_model"`
	// MergerModel is the model used by the conflict-resolution agent.
	MergerModel string `mapstructure:"merger_model"`
	// MaxAttempts caps how often a task may be requeued before it is blocked.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Default configuration values.
const (
	DefaultBranchPrefix = "opensprint"
	DefaultLogLevel     = "INFO"
	DefaultMaxAttempts  = 3
)

// SetDefaults registers default values with viper.
func SetDefaults() {
	viper.SetDefault("branch.prefix", DefaultBranchPrefix)
	viper.SetDefault("merger.command", "")
	viper.SetDefault("merger.timeout_minutes", 20)
	viper.SetDefault("logging.level", DefaultLogLevel)
	viper.SetDefault("paths.data_dir", defaultDataDir())
	viper.SetDefault("paths.worktree_dir", "")
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigDir returns the directory where the config file is expected.
func ConfigDir() string {
	if dir := os.Getenv("OPENSPRINT_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "opensprint")
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opensprint"
	}
	return filepath.Join(home, ".local", "share", "opensprint")
}

// DataDirFor returns the per-project data directory under the configured root.
func (c *Config) DataDirFor(projectID string) string {
	return filepath.Join(c.Paths.DataDir, "projects", projectID)
}

// Project returns the settings section for a project. A project with no
// section in the config file gets an all-defaults section.
func (c *Config) Project(projectID string) ProjectSection {
	if c.Projects == nil {
		return ProjectSection{}
	}
	return c.Projects[strings.ToLower(projectID)]
}
