package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type taskSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect A2A tasks on the Gateway",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks known to the Gateway",
	RunE:  runTasksList,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Get(serverAddr + "/a2a/tasks")
	if err != nil {
		return fmt.Errorf("fetch tasks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	var summaries []taskSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(summaries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Post(serverAddr+"/a2a/tasks/"+args[0]+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	fmt.Println("canceled", args[0])
	return nil
}
