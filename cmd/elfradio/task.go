package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskStartCmd = &cobra.Command{
	Use:   "start [mode]",
	Short: "Start a task (GeneralCommunication, AirbandListening, ...)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active task",
	Args:  cobra.NoArgs,
	RunE:  runTaskStop,
}

var taskSendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Transmit text on the active task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskSend,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active task and device health",
	Args:  cobra.NoArgs,
	RunE:  runTaskStatus,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskExportCmd = &cobra.Command{
	Use:   "export [task-id]",
	Short: "Download a task archive as zip",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskExport,
}

var (
	listLimit  int
	exportPath string
)

func init() {
	taskCmd.AddCommand(taskStartCmd, taskStopCmd, taskSendCmd, taskStatusCmd, taskListCmd, taskShowCmd, taskExportCmd)

	taskListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of tasks to list")
	taskExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Output file (default: <task-id>.zip)")
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	id, name, err := newAPIClient().StartTask(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Started task: %s\n", name)
	fmt.Printf("ID:           %s\n", id)
	return nil
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().StopTask(); err != nil {
		return err
	}
	fmt.Println("Stopping active task")
	return nil
}

func runTaskSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if err := newAPIClient().SendText(text); err != nil {
		return err
	}
	fmt.Printf("Queued: %s\n", text)
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	st, err := newAPIClient().Status()
	if err != nil {
		return err
	}

	if st.Task == nil {
		fmt.Println("Task:     none")
	} else {
		fmt.Printf("Task:     %s\n", st.Task.Name)
		fmt.Printf("Mode:     %s\n", st.Task.Mode)
		fmt.Printf("Status:   %s\n", st.Task.Status)
	}
	fmt.Printf("Network:  %s\n", st.Network)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tSTATUS")
	for _, kind := range []string{"PTT", "AudioIn", "AudioOut", "SDR"} {
		status := st.Hardware[kind]
		if status == "" {
			status = "Unknown"
		}
		fmt.Fprintf(w, "%s\t%s\n", kind, status)
	}
	return w.Flush()
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := newAPIClient().ListTasks(listLimit)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTARTED\tDURATION")
	for _, t := range tasks {
		duration := "-"
		if t.EndedAt != nil {
			duration = t.EndedAt.Sub(t.CreatedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID), t.Mode, t.Status, t.CreatedAt.Local().Format("2006-01-02 15:04"), duration)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	task, err := newAPIClient().GetTask(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Name:        %s\n", task.Name)
	fmt.Printf("Mode:        %s\n", task.Mode)
	fmt.Printf("Status:      %s\n", task.Status)
	fmt.Printf("Directory:   %s\n", task.Dir)
	fmt.Printf("Created:     %s\n", task.CreatedAt.Local().Format(time.RFC3339))
	if task.EndedAt != nil {
		fmt.Printf("Ended:       %s\n", task.EndedAt.Local().Format(time.RFC3339))
	}

	if len(task.Stages) > 0 {
		fmt.Println("\n--- STAGES ---")
		for _, st := range task.Stages {
			line := fmt.Sprintf("%s %-10s %-16s %s", truncateID(st.RunID), st.Direction, st.Stage, st.State)
			if st.Reason != "" {
				line += " (" + truncate(st.Reason, 60) + ")"
			}
			fmt.Println(line)
		}
	}

	fmt.Println("\n--- TRANSCRIPT ---")
	if len(task.Log) == 0 {
		fmt.Println("(empty)")
	}
	for _, l := range task.Log {
		fmt.Printf("%s %-8s %s\n", l.Timestamp.Local().Format("15:04:05"), l.Direction, l.Content)
	}
	return nil
}

func runTaskExport(cmd *cobra.Command, args []string) error {
	out := exportPath
	if out == "" {
		out = args[0] + ".zip"
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := newAPIClient().ExportTask(args[0], f); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %s\n", out)
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
