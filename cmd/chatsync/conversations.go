package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/matchcards/chatsync"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(messagesCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		convs, err := client.ListConversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUNREAD\tLAST ACTIVE\tLAST MESSAGE")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Name, c.UnreadCount, lastActive(c), preview(c.LastMessage))
		}
		return w.Flush()
	},
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create <peer-id>",
	Short: "Create a conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromConfig()
		if err != nil {
			return err
		}
		conv, err := client.CreateConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created conversation %s\n", conv.ID)
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Long: "Delete a conversation over the push connection so the peer is told live,\n" +
		"falling back to REST when the push path does not confirm or cannot connect.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		engine, err := newEngine(cfg, nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := deleteConversation(ctx, engine, cfg.Default.Token, args[0], 5*time.Second); err != nil {
			return err
		}
		fmt.Printf("Deleted conversation %s\n", args[0])
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromConfig()
		if err != nil {
			return err
		}
		msgs, err := client.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", humanize.Time(m.CreatedAt), m.SenderID, m.Content)
		}
		return nil
	},
}

// deleteConversation deletes over the engine's push path when a connection
// comes up within connectTimeout, and straight over REST otherwise.
func deleteConversation(ctx context.Context, engine *chatsync.Engine, token, conversationID string, connectTimeout time.Duration) error {
	engine.SetCredential(token)
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := waitConnected(connCtx, engine)
	cancel()
	if err != nil {
		logger.Warn("push connection unavailable, deleting over REST", "error", err)
		engine.Close()
	}
	return engine.Lifecycle().Delete(ctx, conversationID)
}

func clientFromConfig() (*chatsync.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return getClient(cfg)
}

func lastActive(c chatsync.Conversation) string {
	if c.LastActiveAt.IsZero() {
		return "-"
	}
	return humanize.Time(c.LastActiveAt)
}

func preview(m *chatsync.Message) string {
	if m == nil {
		return ""
	}
	r := []rune(m.Content)
	if len(r) > 40 {
		return string(r[:40]) + "..."
	}
	return string(r)
}
