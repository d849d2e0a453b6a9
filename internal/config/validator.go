package config

import (
	"fmt"
	"strings"
)

// validGitWorkingModes are the values accepted in a project section.
// The empty string means the setting is absent and resolves to worktree.
var validGitWorkingModes = map[string]bool{
	"":                   true,
	string(ModeWorktree): true,
	string(ModeBranches): true,
}

// validLogLevels are the accepted logging levels.
var validLogLevels = map[string]bool{
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

// Validate checks the configuration for invalid values.
// It returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.Logging.Level != "" && !validLogLevels[strings.ToUpper(c.Logging.Level)] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if c.Merger.TimeoutMinutes < 0 {
		return fmt.Errorf("merger.timeout_minutes: must not be negative, got %d", c.Merger.TimeoutMinutes)
	}

	for id, section := range c.Projects {
		if !validGitWorkingModes[section.GitWorkingMode] {
			return fmt.Errorf("projects.%s.git_working_mode: must be %q or %q, got %q",
				id, ModeWorktree, ModeBranches, section.GitWorkingMode)
		}
		if section.Agents.MaxAttempts < 0 {
			return fmt.Errorf("projects.%s.agents.max_attempts: must not be negative, got %d",
				id, section.Agents.MaxAttempts)
		}
	}

	return nil
}
