package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/elfradio/elfradio/internal/tui"
	"github.com/spf13/cobra"
)

var noAutostart bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive status console",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "Do not start a local daemon when none is reachable")
}

func runTUI(cmd *cobra.Command, args []string) error {
	addr, token := resolveAPI()

	// 1. Check if Daemon is running
	if !isDaemonRunning(addr) && !noAutostart {
		fmt.Println("⚡ ElfRadio daemon not running. Starting background service...")
		if err := startDaemon(addr); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// 2. Launch TUI
	app := tui.New(addr, token)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(addr string) bool {
	ok, err := tui.NewClient(addr, "").CheckHealth()
	return err == nil && ok
}

func startDaemon(addr string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Start "elfradio daemon" in background
	cmd := exec.Command(exe, "daemon", "--config", configDir)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)

	// Keep daemon output off the TUI screen.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning(addr) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", addr)
}
