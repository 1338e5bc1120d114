package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"chatcore/internal/client"
	"chatcore/internal/domain/entity"
)

var (
	chatsGroups      bool
	groupCreateUsers string
)

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// title names a conversation from the viewer's side.
func title(conv *client.Conversation, selfID string) string {
	if conv.Kind == entity.KindGroup {
		return conv.Name
	}
	others := lo.Filter(conv.Participants, func(p *entity.UserProfile, _ int) bool { return p.ID != selfID })
	names := lo.Map(others, func(p *entity.UserProfile, _ int) string { return p.Username })
	if len(names) == 0 {
		return strings.Join(conv.Recipients(selfID), ", ")
	}
	return strings.Join(names, ", ")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		kind := entity.KindChat
		if chatsGroups {
			kind = entity.KindGroup
		}
		conversations, err := engine.API().ListConversations(ctx, kind)
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		selfID := engine.Session().UserID()
		table := newTable([]string{"ID", "With", "Last message", "Updated"})
		for _, conv := range conversations {
			last := ""
			if conv.LastMessage != nil {
				last = truncate(conv.LastMessage.Content, 40)
			}
			table.Append([]string{
				conv.ID,
				title(conv, selfID),
				last,
				conv.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		table.Render()
		return nil
	},
}

var chatNewCmd = &cobra.Command{
	Use:   "new-chat <user-id>",
	Short: "Start a chat with a user, or find the existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		conv, err := engine.API().CreateChat(ctx, args[0])
		if err != nil {
			return err
		}
		color.Green.Printf("Chat %s\n", conv.ID)
		fmt.Println("Run 'chatcli open " + conv.ID + "' to start talking.")
		return nil
	},
}

var groupNewCmd = &cobra.Command{
	Use:   "new-group <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		members := lo.Compact(lo.Map(strings.Split(groupCreateUsers, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
		conv, err := engine.API().CreateGroup(ctx, args[0], members)
		if err != nil {
			return err
		}
		color.Green.Printf("Group %s (%d members)\n", conv.ID, len(conv.ParticipantIDs))
		return nil
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add-member <group-id> <user-id>",
	Short: "Add a user to a group you administer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		conv, err := engine.API().AddMember(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		color.Green.Printf("Group %s now has %d members\n", conv.ID, len(conv.ParticipantIDs))
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up users",
}

var usersOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List users that are online right now",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		users, err := engine.API().OnlineUsers(ctx)
		if err != nil {
			return err
		}
		table := newTable([]string{"ID", "Username"})
		for _, u := range users {
			table.Append([]string{u.ID, u.Username})
		}
		table.Render()
		return nil
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := requireLogin(client.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := requestContext()
		defer cancel()

		u, err := engine.API().GetUser(ctx, args[0])
		if err != nil {
			return err
		}
		status := color.Gray.Sprint("offline, last seen " + u.LastSeen.Local().Format(time.DateTime))
		if u.Online {
			status = color.Green.Sprint("online")
		}
		fmt.Printf("%s (%s): %s\n", u.Username, u.ID, status)
		return nil
	},
}

func init() {
	chatsCmd.Flags().BoolVar(&chatsGroups, "groups", false, "List groups instead of chats")
	groupNewCmd.Flags().StringVar(&groupCreateUsers, "members", "", "Comma-separated user IDs to add")

	usersCmd.AddCommand(usersOnlineCmd, usersGetCmd)
	rootCmd.AddCommand(chatsCmd, chatNewCmd, groupNewCmd, groupAddCmd, usersCmd)
}
