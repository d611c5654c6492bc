package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	frontchat "github.com/JOUDASHY/front-chat-next"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	jsonOutput bool

	// send
	sendFile  string
	sendGroup bool

	// history
	historyLimit int
	historyGroup bool
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and start conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		list := frontchat.NewConversationList(env.client.Conversations, nil, env.session.UserID(),
			frontchat.WithViewLogger(logger))
		if err := list.Load(ctx); err != nil {
			return describeError(err)
		}
		snap := list.Snapshot()

		if jsonOutput {
			return printJSON(snap.Conversations)
		}
		if len(snap.Conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range snap.Conversations {
			kind := "@"
			target := c.PeerID
			if c.IsGroup() {
				kind = "#"
				target = c.ID
			}
			preview := c.LastMessage
			if len(preview) > 48 {
				preview = preview[:45] + "..."
			}
			fmt.Printf("  %s%-6s %-20s %-14s %s\n", kind, target, c.Name, since(c.LastActivity), preview)
		}
		return nil
	},
}

var conversationsStartCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Start (or reopen) a direct conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := frontchat.ParseID(args[0])
		if err != nil {
			return err
		}
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := env.client.Conversations.Create(ctx, userID)
		if err != nil {
			return describeError(err)
		}
		if jsonOutput {
			return printJSON(conv)
		}
		fmt.Printf("Conversation %s with %s\n", conv.ID, conv.Name)
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <user-id|group-id> [message]",
	Short: "Send a message",
	Long:  "Send a direct message to a user, or to a group with --group. Attach a file with --file.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := frontchat.ParseID(args[0])
		if err != nil {
			return err
		}
		msg := frontchat.OutgoingMessage{}
		if len(args) == 2 {
			msg.Content = args[1]
		}
		if sendFile != "" {
			att, err := frontchat.AttachmentFromFile(sendFile)
			if err != nil {
				return err
			}
			msg.Attachment = att
		}

		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var sent *frontchat.Message
		if sendGroup {
			sent, err = env.client.Messages.SendGroup(ctx, target, msg)
		} else {
			sent, err = env.client.Messages.SendPrivate(ctx, target, msg)
		}
		if err != nil {
			return describeError(err)
		}
		if jsonOutput {
			return printJSON(sent)
		}
		if sent == nil {
			fmt.Println("Message sent.")
			return nil
		}
		fmt.Printf("Message sent to conversation %s\n", sent.ConversationID)
		fmt.Printf("  Message ID: %s\n", sent.ID)
		fmt.Printf("  Content:    %s\n", sent.Preview())
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <user-id|group-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := frontchat.ParseID(args[0])
		if err != nil {
			return err
		}
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var hist *frontchat.History
		if historyGroup {
			hist, err = env.client.Messages.Group(ctx, target)
		} else {
			hist, err = env.client.Messages.Private(ctx, target)
		}
		if err != nil {
			return describeError(err)
		}

		msgs := hist.Messages
		if historyLimit > 0 && len(msgs) > historyLimit {
			msgs = msgs[len(msgs)-historyLimit:]
		}
		if jsonOutput {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", since(m.Timestamp), m.Sender, m.Preview())
		}
		return nil
	},
}

// ============================================================================
// users
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up users",
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := env.client.Users.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return describeError(err)
		}
		if jsonOutput {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  %-6s %-20s %s\n", u.ID, u.Username, u.DisplayName())
		}
		return nil
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := frontchat.ParseID(args[0])
		if err != nil {
			return err
		}
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		u, err := env.client.Users.Get(ctx, id)
		if err != nil {
			return describeError(err)
		}
		if jsonOutput {
			return printJSON(u)
		}
		printUser(u)
		return nil
	},
}

func printUser(u *frontchat.User) {
	fmt.Printf("ID:        %s\n", u.ID)
	fmt.Printf("Username:  %s\n", u.Username)
	fmt.Printf("Name:      %s\n", u.DisplayName())
	if u.Email != "" {
		fmt.Printf("E-mail:    %s\n", u.Email)
	}
	if p := u.Profile; p != nil {
		if p.Status != "" {
			fmt.Printf("Status:    %s\n", p.Status)
		}
		if p.Location != "" {
			fmt.Printf("Location:  %s\n", p.Location)
		}
		if p.BirthDate != "" {
			fmt.Printf("Birthday:  %s\n", p.BirthDate)
		}
		if p.Passion != "" {
			fmt.Printf("Passion:   %s\n", p.Passion)
		}
	}
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	for _, c := range []*cobra.Command{
		conversationsListCmd, conversationsStartCmd, sendCmd, historyCmd, usersSearchCmd, usersShowCmd,
	} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	}

	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "Attach a file")
	sendCmd.Flags().BoolVarP(&sendGroup, "group", "g", false, "Target is a group id")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the last n messages")
	historyCmd.Flags().BoolVarP(&historyGroup, "group", "g", false, "Target is a group id")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsStartCmd)
	usersCmd.AddCommand(usersSearchCmd)
	usersCmd.AddCommand(usersShowCmd)

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(usersCmd)
}
