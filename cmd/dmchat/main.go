// dmchat is a terminal client for the SpotLight DM relay. It drives the
// conversation session controller the same way the web client's dialog does:
// open loads history and connects the live channel, stdin lines are sent to
// the peer, and incoming messages print as they arrive.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spotlight/backend/internal/session"
	"spotlight/backend/pkg/logger"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "DM relay base URL")
		wsURL     = flag.String("ws", "", "WebSocket URL (defaults to <server>/ws with ws scheme)")
		userID    = flag.Int64("user", 0, "local user id")
		peerID    = flag.Int64("peer", 0, "peer user id")
		token     = flag.String("token", "", "access token")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *userID <= 0 || *peerID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: dmchat -user <id> -peer <id> [-server URL] [-token TOKEN]")
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: *logLevel, JSON: false})
	logger.SetGlobal(log)

	socketURL := *wsURL
	if socketURL == "" {
		socketURL = strings.Replace(*serverURL, "http", "ws", 1) + "/ws"
	}

	ctrl := session.NewController(session.Options{
		Identity: session.StaticIdentity(*userID),
		History:  session.NewHistoryClient(*serverURL, *token),
		Transport: func(localID int64) session.LiveTransport {
			return session.NewChannel(socketURL, localID, *token, log)
		},
		Logger: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Open(ctx, *peerID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open conversation: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	fmt.Printf("Chatting with user %d. Type a message and press enter; Ctrl-D to quit.\n", *peerID)

	go renderLoop(ctx, ctrl, *userID)

	// Give the history fetch and handshake a moment before the first prompt
	time.Sleep(200 * time.Millisecond)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-quit:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			ctrl.SetDraft(line)
			if err := ctrl.SendDraft(); err != nil {
				fmt.Fprintf(os.Stderr, "! not sent: %v\n", err)
				continue
			}
			// The relay routes frames to the recipient only, so echo
			// our own sends locally
			if text := strings.TrimSpace(line); text != "" {
				fmt.Printf("[%s] you: %s\n", time.Now().Format("15:04"), text)
			}
		}
	}
}

// renderLoop prints new messages whenever the controller signals a change.
// The updates channel stays open for the controller's lifetime, so the loop
// terminates on ctx instead.
func renderLoop(ctx context.Context, ctrl *session.Controller, localID int64) {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Updates():
		}

		if err := ctrl.HistoryErr(); err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		}
		if err := ctrl.ConnErr(); err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		}

		messages := ctrl.Messages()
		if len(messages) < printed {
			// Store was reset
			printed = 0
		}
		for _, msg := range messages[printed:] {
			who := "them"
			if msg.SenderID == localID {
				who = "you"
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04"), who, msg.Content)
		}
		printed = len(messages)
	}
}
