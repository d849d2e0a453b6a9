package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensprint/opensprint/internal/config"
	"github.com/opensprint/opensprint/internal/taskstore"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks <project>",
	Short: "List a project's tasks",
	Long: `List all tasks recorded for a project, with status, attempts, and
the most recent comment from the task's history trail.`,
	Args: cobra.ExactArgs(1),
	RunE: runTasks,
}

var tasksStatusFilter string

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringVar(&tasksStatusFilter, "status", "", "Only show tasks with this status (open|in_progress|closed)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	projectID := args[0]

	store, err := taskstore.NewFileStore(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}

	tasks, err := store.ListAll(projectID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Tasks for project %s\n", projectID)
	fmt.Println(strings.Repeat("─", 70))

	shown := 0
	for _, task := range tasks {
		if tasksStatusFilter != "" && string(task.Status) != tasksStatusFilter {
			continue
		}
		shown++

		fmt.Printf("\n  Task: %s\n", task.ID)
		fmt.Printf("    Title:    %s\n", task.Title)
		fmt.Printf("    Status:   %s\n", task.Status)
		fmt.Printf("    Attempts: %d\n", task.Attempts)
		if task.Assignee != "" {
			fmt.Printf("    Assignee: %s\n", task.Assignee)
		}
		if task.BlockReason != "" {
			fmt.Printf("    Blocked:  %s\n", task.BlockReason)
		}
		if len(task.Comments) > 0 {
			last := task.Comments[len(task.Comments)-1]
			fmt.Printf("    Last:     %s\n", last.Text)
		}
	}

	if shown == 0 {
		fmt.Println("\nNo tasks found.")
	}
	fmt.Println()
	fmt.Println(strings.Repeat("─", 70))
	return nil
}
