package config

import (
	"sync"
)

// GitWorkingMode selects how agent workspaces are laid out for a project.
type GitWorkingMode string

const (
	// ModeWorktree gives every task a dedicated git worktree that is torn
	// down after a successful merge. This is the default.
	ModeWorktree GitWorkingMode = "worktree"
	// ModeBranches runs agents directly on named branches in the main
	// checkout; there is no per-task worktree to remove.
	ModeBranches GitWorkingMode = "branches"
)

// ResolveGitWorkingMode maps a raw settings value to a working mode.
// Only the exact string "branches" selects branch mode; everything else,
// including the empty string for an absent setting, resolves to worktree so
// that cleanup is never skipped by accident.
func ResolveGitWorkingMode(raw string) GitWorkingMode {
	if raw == string(ModeBranches) {
		return ModeBranches
	}
	return ModeWorktree
}

// ProjectSettings is the resolved view of a project's configuration handed
// to the merge coordinator.
type ProjectSettings struct {
	ProjectID      string
	GitWorkingMode string // raw value; may be empty when unset
	RepoPath       string
	Deployment     DeploymentSettings
	Agents         AgentSettings
}

// WorkingMode returns the resolved working mode for the project.
func (s ProjectSettings) WorkingMode() GitWorkingMode {
	return ResolveGitWorkingMode(s.GitWorkingMode)
}

// SettingsProvider resolves per-project settings for a coordination call.
type SettingsProvider interface {
	GetSettings(projectID string) (ProjectSettings, error)
}

// StaticProvider serves settings resolved once from a loaded Config.
// It is safe for concurrent use and suitable as the production provider:
// project settings do not change for the lifetime of an orchestrator run.
type StaticProvider struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStaticProvider creates a provider backed by the given Config.
func NewStaticProvider(cfg *Config) *StaticProvider {
	return &StaticProvider{cfg: cfg}
}

// GetSettings returns the settings for a project. Projects without a config
// section get all-default settings; in particular the working mode resolves
// to worktree.
func (p *StaticProvider) GetSettings(projectID string) (ProjectSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	section := p.cfg.Project(projectID)
	agents := section.Agents
	if agents.MaxAttempts == 0 {
		agents.MaxAttempts = DefaultMaxAttempts
	}

	return ProjectSettings{
		ProjectID:      projectID,
		GitWorkingMode: section.GitWorkingMode,
		RepoPath:       section.RepoPath,
		Deployment:     section.Deployment,
		Agents:         agents,
	}, nil
}

// Reload swaps the underlying Config, e.g. after the config file changed.
func (p *StaticProvider) Reload(cfg *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}
