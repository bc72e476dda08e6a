package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	chatUser         string
	chatConversation string
	chatEphemeral    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatUser == "" {
			return errors.New("--user is required")
		}
		return chat(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id the turn runs as")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "existing conversation id (omit to start one)")
	chatCmd.Flags().BoolVar(&chatEphemeral, "ephemeral", false, "use a throwaway in-memory database")
}

func chat(ctx context.Context, message string) error {
	var conn *sql.DB
	var err error
	if chatEphemeral {
		conn, err = db.OpenInMemory(ctx)
	} else {
		conn, err = openDatabase(ctx)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	components, err := harness.NewFactory(cfg, conn, logger).Build(ctx)
	if err != nil {
		return err
	}

	if closer, ok := components.Limiter.(io.Closer); ok {
		defer closer.Close()
	}

	result, err := components.Orchestrator.SubmitTurn(ctx, harness.TurnRequest{
		UserID:         chatUser,
		ConversationID: chatConversation,
		Message:        message,
	})
	if err != nil {
		var herr *harness.Error
		if errors.As(err, &herr) && herr.Kind == harness.KindRateLimited {
			return fmt.Errorf("%s (retry in %ds)", herr.Message, herr.RetryAfterSeconds())
		}
		return fmt.Errorf("%s", harness.PublicMessage(err))
	}

	for _, rec := range result.ToolInvocations {
		if rec.Failed() {
			fmt.Printf("%s %s %s\n", color.RedString("✗"), rec.Operation, color.New(color.Faint).Sprint(rec.Error.Kind))
			continue
		}
		fmt.Printf("%s %s\n", color.GreenString("✓"), rec.Operation)
	}

	replyColor := color.New(color.FgCyan)
	if result.Outcome != harness.OutcomeReply {
		replyColor = color.New(color.FgYellow)
	}
	fmt.Println()
	replyColor.Println(result.Reply)
	fmt.Printf("\n%s %s\n", color.New(color.Faint).Sprint("conversation:"), result.ConversationID)
	return nil
}
