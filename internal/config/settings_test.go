package config

import "testing"

func TestResolveGitWorkingMode(t *testing.T) {
	cases := []struct {
		raw  string
		want GitWorkingMode
	}{
		{"worktree", ModeWorktree},
		{"branches", ModeBranches},
		// Anything that is not exactly "branches" must resolve to
		// worktree so workspace cleanup is never skipped by accident.
		{"", ModeWorktree},
		{"Branches", ModeWorktree},
		{"branch", ModeWorktree},
		{"unknown", ModeWorktree},
	}

	for _, tc := range cases {
		if got := ResolveGitWorkingMode(tc.raw); got != tc.want {
			t.Errorf("ResolveGitWorkingMode(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestStaticProviderResolvesProject(t *testing.T) {
	cfg := &Config{
		Projects: map[string]ProjectSection{
			"demo": {
				GitWorkingMode: "branches",
				RepoPath:       "/tmp/repo",
				Deployment:     DeploymentSettings{AutoTrigger: true, Environment: "staging"},
				Agents:         AgentSettings{MergerModel: "merger-large", MaxAttempts: 5},
			},
		},
	}
	provider := NewStaticProvider(cfg)

	settings, err := provider.GetSettings("demo")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.WorkingMode() != ModeBranches {
		t.Errorf("WorkingMode = %q, want branches", settings.WorkingMode())
	}
	if !settings.Deployment.AutoTrigger {
		t.Error("Deployment.AutoTrigger should carry through")
	}
	if settings.Agents.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", settings.Agents.MaxAttempts)
	}
}

func TestStaticProviderUnknownProjectDefaults(t *testing.T) {
	provider := NewStaticProvider(&Config{})

	settings, err := provider.GetSettings("missing")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.WorkingMode() != ModeWorktree {
		t.Errorf("unknown project must default to worktree mode, got %q", settings.WorkingMode())
	}
	if settings.Agents.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", settings.Agents.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestStaticProviderReload(t *testing.T) {
	provider := NewStaticProvider(&Config{})
	provider.Reload(&Config{
		Projects: map[string]ProjectSection{
			"demo": {GitWorkingMode: "branches"},
		},
	})

	settings, err := provider.GetSettings("demo")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.WorkingMode() != ModeBranches {
		t.Errorf("WorkingMode after reload = %q, want branches", settings.WorkingMode())
	}
}
