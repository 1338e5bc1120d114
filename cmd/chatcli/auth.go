package main

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"chatcore/internal/client"
)

var (
	registerEmail    string
	registerPassword string
	loginPassword    string
)

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := loadSession()
		if err != nil {
			return err
		}
		password, err := readSecret("Password: ", registerPassword)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		user, err := client.NewAPI(session, nil).Register(ctx, args[0], password, registerEmail)
		if err != nil {
			return err
		}
		color.Green.Printf("Registered %s (%s)\n", user.Username, user.ID)
		fmt.Println("Run 'chatcli login " + user.Username + "' to start chatting.")
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and remember the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := loadSession()
		if err != nil {
			return err
		}
		password, err := readSecret("Password: ", loginPassword)
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		user, err := client.NewAPI(session, nil).Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		color.Green.Printf("Logged in as %s\n", user.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		if err := engine.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		me, err := engine.API().Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Username: %s\n", me.Username)
		fmt.Printf("User ID:  %s\n", me.ID)
		fmt.Printf("Server:   %s\n", engine.Session().BaseURL())
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Password (prompted when omitted)")
	registerCmd.MarkFlagRequired("email")

	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd)
}
