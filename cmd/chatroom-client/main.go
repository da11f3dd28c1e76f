// Command chatroom-client is a line-oriented terminal client: inbound events
// print to stdout, each stdin line is sent to the room.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/client"
	"github.com/thesjq/chatroom/internal/config"
	"github.com/thesjq/chatroom/internal/identity"
	"github.com/thesjq/chatroom/internal/logger"
	"github.com/thesjq/chatroom/internal/wire"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		stdlog.Fatalf("configuration: %v", err)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	resolver := identity.NewResolver(cfg.NameServiceURL, cfg.DisplayName, log.Named("identity"))
	name := resolver.Resolve(context.Background())

	session := client.New(cfg, name, log.Named("session"))
	go session.Run()

	go printEvents(session)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		if body == "/quit" {
			break
		}
		if err := session.Send(body); err != nil {
			if errors.Is(err, client.ErrSessionClosed) {
				break
			}
			log.Warn("message not sent", zap.Error(err))
		}
	}

	session.Close()
	<-session.Done()
}

func printEvents(session *client.Session) {
	for ev := range session.Events() {
		switch ev.Type {
		case wire.KindWelcome:
			fmt.Printf("* you are %s (#%d), %d in the room\n", ev.Name, ev.ID, len(ev.Users))
		case wire.KindJoined:
			fmt.Printf("* %s (#%d) joined\n", ev.Name, ev.ID)
		case wire.KindLeft:
			fmt.Printf("* #%d left\n", ev.ID)
		case wire.KindMessage:
			fmt.Printf("[%s] %s: %s\n", ev.SentAt.Local().Format("15:04:05"), ev.Name, ev.Body)
		}
	}
}
