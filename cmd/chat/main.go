package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pawmart/internal/adapter/repository"
	"pawmart/internal/domain/entity"
	"pawmart/internal/infrastructure/history"
	ws "pawmart/internal/infrastructure/websocket"
	"pawmart/internal/usecase"
	"pawmart/pkg/config"
)

var (
	flagServer       string
	flagToken        string
	flagUser         string
	flagConversation string
)

func main() {
	root := &cobra.Command{
		Use:   "chat",
		Short: "Interactive marketplace chat client",
		Long:  "Connects the conversation sync engine to a chat backend and drives it from the terminal.",
		RunE:  runChat,
	}
	root.Flags().StringVar(&flagServer, "server", "", "backend base URL (default from PAWMART_SERVER_URL)")
	root.Flags().StringVar(&flagToken, "token", "", "bearer token (default from PAWMART_TOKEN)")
	root.Flags().StringVar(&flagUser, "user", "", "own user id")
	root.Flags().StringVar(&flagConversation, "conversation", "", "conversation id to open")
	root.MarkFlagRequired("user")
	root.MarkFlagRequired("conversation")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagServer == "" {
		flagServer = cfg.ServerURL
	}
	if flagToken == "" {
		flagToken = cfg.Token
	}

	transport := ws.NewClient(flagServer, ws.Options{
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
	})
	engine := usecase.NewChatSyncUseCase(usecase.ChatSyncConfig{
		SelfID:         flagUser,
		SendTimeout:    cfg.SendTimeout,
		CachedLogLimit: cfg.CachedLogLimit,
	}, repository.NewMemoryMessageStore(), transport, history.NewClient(flagServer, flagToken))

	engine.OnStateChange(func(snap usecase.Snapshot) {
		printSnapshot(snap, flagUser, flagConversation)
	})

	ctx := cmd.Context()
	if err := engine.Start(ctx, ws.Credentials{Token: flagToken}); err != nil {
		return err
	}
	defer engine.Stop()

	if err := engine.Open(ctx, flagConversation); err != nil {
		return err
	}
	fmt.Printf("connected as %s, conversation %s. type to send, /quit to exit\n", flagUser, flagConversation)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/read":
			engine.MarkRead(flagConversation, "")
		case strings.HasPrefix(line, "/retry "):
			clientID := entity.ClientID(strings.TrimPrefix(line, "/retry "))
			if newID := engine.Retry(flagConversation, clientID); newID == "" {
				fmt.Println("nothing to retry")
			}
		default:
			engine.SetTyping(flagConversation, false)
			engine.Send(flagConversation, line)
		}
	}
	return scanner.Err()
}

func printSnapshot(snap usecase.Snapshot, selfID, conversationID string) {
	for _, conv := range snap.Conversations {
		if conv.ID != conversationID || conv.LastMessage == nil {
			continue
		}
		m := conv.LastMessage
		who := m.SenderID
		if who == selfID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s (%s)\n", snap.ConnectionState, who, m.Content, m.Status)
	}
}
