package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"chatcore/internal/client"
)

const (
	defaultServer  = "http://localhost:8080"
	requestTimeout = 15 * time.Second
)

var (
	configFlag string
	serverFlag string
)

var rootCmd = &cobra.Command{
	Use:           "chatcli",
	Short:         "Terminal client for chatcore",
	Long:          "Command-line client for a chatcore server.\nLog in, list conversations and chat live from the terminal.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// defaultConfigPath returns ~/.chatcli/state.toml.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatcli.toml"
	}
	return filepath.Join(home, ".chatcli", "state.toml")
}

// loadSession opens the state file and applies --server.
func loadSession() (*client.Session, error) {
	path := configFlag
	if path == "" {
		path = defaultConfigPath()
	}
	session, err := client.NewSession(path)
	if err != nil {
		return nil, err
	}

	switch {
	case serverFlag != "":
		if err := session.SetBaseURL(serverFlag); err != nil {
			return nil, err
		}
	case session.BaseURL() == "":
		if err := session.SetBaseURL(defaultServer); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// requireLogin returns an engine for a logged-in session.
func requireLogin(opts client.Options) (*client.Engine, error) {
	session, err := loadSession()
	if err != nil {
		return nil, err
	}
	if !session.LoggedIn() {
		return nil, errors.New("not logged in. Run 'chatcli login <username>' first")
	}
	return client.NewEngine(session, opts), nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// readSecret prompts for a value on stdin when the flag was not given.
func readSecret(prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func describeError(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrSessionExpired):
		return "Session expired. Run 'chatcli login <username>' again."
	case errors.As(err, &apiErr):
		return fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message)
	default:
		return err.Error()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the state file (default ~/.chatcli/state.toml)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Server base URL, remembered for later commands")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red.Println(describeError(err))
		os.Exit(1)
	}
}
