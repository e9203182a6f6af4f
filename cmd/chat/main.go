// Command chat is a line-oriented terminal client: stdin lines become chat
// messages, broadcasts and presence changes print to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"nickchat/internal/client"
	"nickchat/internal/model"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "chat server websocket URL")
	nickname := flag.String("nick", "", "nickname to log in with")
	sessionToken := flag.String("token", "", "session token to resume a previous session")
	flag.Parse()

	if *nickname == "" {
		log.Fatal("-nick is required")
	}

	c := client.New(client.Config{
		URL:           *url,
		AutoReconnect: true,
		Credentials:   &client.Credentials{Nickname: *nickname, SessionToken: *sessionToken},
	})

	view := client.NewPresenceView()
	c.OnPresence(func(users []model.PublicUser) {
		view.Apply(users)
		parts := make([]string, 0, len(users))
		for _, e := range view.Users() {
			parts = append(parts, fmt.Sprintf("%s(%s)", e.User.Nickname, e.Status))
		}
		fmt.Printf("* online: %s\n", strings.Join(parts, " "))
	})
	c.OnMessage(func(m model.Message) {
		fmt.Printf("[%s] %s\n", time.UnixMilli(m.CreatedAt).Format("15:04:05"), m.Message)
	})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if creds := c.Credentials(); creds != nil && creds.SessionToken != "" {
		fmt.Printf("* session token (pass with -token to resume): %s\n", creds.SessionToken)
	}

	history, err := c.FetchMessages(ctx, time.Now().UnixMilli(), 0)
	if err != nil {
		log.Printf("fetch history: %v", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		fmt.Printf("[%s] %s\n", time.UnixMilli(m.CreatedAt).Format("15:04:05"), m.Message)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if _, err := c.SendMessage(ctx, line); err != nil {
			log.Printf("send: %v", err)
		}
	}
}
