package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensprint/opensprint/internal/config"
	"github.com/opensprint/opensprint/internal/coordinator"
	"github.com/opensprint/opensprint/internal/feedback"
	"github.com/opensprint/opensprint/internal/gitops"
	"github.com/opensprint/opensprint/internal/host"
	"github.com/opensprint/opensprint/internal/logging"
	"github.com/opensprint/opensprint/internal/merger"
	"github.com/opensprint/opensprint/internal/scope"
	"github.com/opensprint/opensprint/internal/sessions"
	"github.com/opensprint/opensprint/internal/taskstore"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <project> <task>",
	Short: "Run a single merge coordination for a task",
	Long: `Integrate a task's branch into main, running the full coordination
sequence: readiness wait, WIP commit, main sync, rebase, conflict
resolution if needed, and the serialized merge-and-push.

This is an operator escape hatch for a slot the orchestrator did not
finish on its own. The task ends up closed or requeued, never in between.`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	projectID, taskID := args[0], args[1]

	section := cfg.Project(projectID)
	if section.RepoPath == "" {
		return fmt.Errorf("project %s has no repo_path configured", projectID)
	}

	logger, err := logging.NewLogger(cfg.Paths.DataDir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer logger.Close()

	branches := gitops.NewManager(
		gitops.WithBranchPrefix(cfg.Branch.Prefix),
		gitops.WithWorktreeDir(cfg.Paths.WorktreeDir),
	)

	tasks, err := taskstore.NewFileStore(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	archive, err := sessions.NewManager(filepath.Join(cfg.Paths.DataDir, "archive"))
	if err != nil {
		return fmt.Errorf("failed to open session archive: %w", err)
	}
	scopes, err := scope.NewAnalyzer(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open scope index: %w", err)
	}
	feedbacks, err := feedback.NewService(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}

	conflict, err := merger.NewCLIRunner(merger.Options{
		Command: cfg.Merger.Command,
		Args:    cfg.Merger.Args,
		Timeout: time.Duration(cfg.Merger.TimeoutMinutes) * time.Minute,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("merger agent not configured: %w", err)
	}

	h, err := host.New(host.Options{
		Branches:     branches,
		Conflict:     conflict,
		Tasks:        tasks,
		Sessions:     archive,
		Scope:        scopes,
		Feedback:     feedbacks,
		Settings:     config.NewStaticProvider(cfg),
		CountersPath: filepath.Join(cfg.Paths.DataDir, "counters.json"),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build host: %w", err)
	}
	defer h.Close()

	task, err := tasks.Show(projectID, taskID)
	if err != nil {
		return fmt.Errorf("task not found: %w", err)
	}

	slot := coordinator.Slot{
		TaskID:     taskID,
		Attempt:    task.Attempts + 1,
		BranchName: branches.BranchForTask(taskID),
		AgentMeta:  coordinator.AgentMeta{StartedAt: time.Now()},
	}
	if config.ResolveGitWorkingMode(section.GitWorkingMode) != config.ModeBranches {
		slot.WorkspacePath = branches.WorktreePathForTask(section.RepoPath, taskID)
	}

	fmt.Printf("Coordinating %s (branch %s)...\n", taskID, slot.BranchName)
	if err := h.CompleteSlot(cmd.Context(), projectID, section.RepoPath, slot); err != nil {
		return fmt.Errorf("failed to start coordination: %w", err)
	}
	if err := h.Wait(); err != nil {
		return fmt.Errorf("coordination failed: %w", err)
	}

	final, err := tasks.Show(projectID, taskID)
	if err != nil {
		return fmt.Errorf("failed to re-read task: %w", err)
	}

	fmt.Println(strings.Repeat("─", 70))
	switch final.Status {
	case taskstore.StatusClosed:
		fmt.Printf("Task %s merged and closed.\n", taskID)
	default:
		fmt.Printf("Task %s requeued (status %s, attempts %d).\n", taskID, final.Status, final.Attempts)
		if len(final.Comments) > 0 {
			fmt.Printf("  %s\n", final.Comments[len(final.Comments)-1].Text)
		}
	}
	return nil
}
