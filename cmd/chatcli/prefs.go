package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	prefsDarkMode      bool
	prefsNotifications bool
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change display preferences",
	Example: `  chatcli prefs
  chatcli prefs --dark-mode --notifications=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := loadSession()
		if err != nil {
			return err
		}

		prefs := session.State().Prefs
		changed := false
		if cmd.Flags().Changed("dark-mode") {
			prefs.DarkMode = prefsDarkMode
			changed = true
		}
		if cmd.Flags().Changed("notifications") {
			prefs.Notifications = prefsNotifications
			changed = true
		}
		if changed {
			if err := session.SetPrefs(prefs); err != nil {
				return err
			}
		}

		fmt.Printf("Dark mode:     %t\n", prefs.DarkMode)
		fmt.Printf("Notifications: %t\n", prefs.Notifications)
		fmt.Printf("Server:        %s\n", session.BaseURL())
		return nil
	},
}

func init() {
	prefsCmd.Flags().BoolVar(&prefsDarkMode, "dark-mode", false, "Use colors for a dark terminal")
	prefsCmd.Flags().BoolVar(&prefsNotifications, "notifications", false, "Ring the bell on new messages")
	rootCmd.AddCommand(prefsCmd)
}
