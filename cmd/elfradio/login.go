package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/elfradio/elfradio/internal/auth"
	"github.com/elfradio/elfradio/internal/tui"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the daemon address and API token",
	Long: `Saves the API token (security.api_token on the daemon) so later commands
can reach the daemon without --token. The token is read from --token or stdin.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget saved credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := auth.NewManager(configDir)
		if err != nil {
			return err
		}
		if err := m.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func runLogin(cmd *cobra.Command, args []string) error {
	token := apiToken
	if token == "" {
		fmt.Print("API token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	addr := apiAddr
	if addr == "" {
		addr = defaultAPIAddr
	}

	// Verify against a protected route before saving.
	if _, err := tui.NewClient(addr, token).Status(); err != nil {
		return fmt.Errorf("token rejected by %s: %w", addr, err)
	}

	m, err := auth.NewManager(configDir)
	if err != nil {
		return err
	}
	if err := m.Login(addr, token); err != nil {
		return err
	}
	fmt.Printf("Logged in to %s\n", addr)
	return nil
}
