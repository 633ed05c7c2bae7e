package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket base address")
	user := flag.String("user", "cli-user", "username")
	room := flag.String("room", "general", "room to join")
	token := flag.String("token", "", "optional auth token")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	url := strings.TrimRight(*addr, "/") + "/" + *room
	if *token != "" {
		url += "?token=" + *token
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s\n", url, *user)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *user)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame struct {
			Type      string `json:"type"`
			Message   string `json:"message"`
			Username  string `json:"username"`
			Timestamp string `json:"timestamp"`
			Code      string `json:"code"`
			Msg       string `json:"msg"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read: %v", err)
			return
		}

		switch frame.Type {
		case proto.TypeChatMessage:
			if frame.Timestamp != "" {
				fmt.Printf("[%s] %s: %s\n", frame.Timestamp, frame.Username, frame.Message)
			} else {
				fmt.Printf("%s: %s\n", frame.Username, frame.Message)
			}
		case proto.TypeError:
			fmt.Printf("error (%s): %s\n", frame.Code, frame.Msg)
		default:
			fmt.Printf("unknown frame: %+v\n", frame)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, user string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Message: text, Username: user}); err != nil {
			log.Printf("send: %v", err)
			return
		}
	}
}
