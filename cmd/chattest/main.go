// Package main provides a load testing tool for the chat WebSocket server.
// In socket mode every client joins one chat, sends messages and typing
// frames and counts what comes back. In session mode the chat's participants
// run the client session objects against the shared database and realtime
// bus, and the tool checks that every session saw every message.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted atomic.Int64
	ConnectionsSuccess   atomic.Int64
	ConnectionsFailed    atomic.Int64
	MessagesSent         atomic.Int64
	TypingSent           atomic.Int64
	FramesReceived       atomic.Int64
	MessagesReceived     atomic.Int64
	Errors               atomic.Int64
}

var metrics Metrics

type target struct {
	host   string
	token  string
	chatID uint
	every  time.Duration
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	email := flag.String("email", "demo@socialhub.local", "Test user email")
	password := flag.String("password", "password123", "Test user password")
	chatID := flag.Uint("chat", 0, "Chat ID to join (the user must be a participant)")
	clients := flag.Int("clients", 50, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	every := flag.Duration("every", 5*time.Second, "Interval between messages per client")
	mode := flag.String("mode", "socket", "socket: websocket clients against -host; session: chat sessions on the shared bus")
	flag.Parse()

	if *chatID == 0 {
		log.Fatal("❌ -chat is required")
	}

	switch *mode {
	case "socket":
	case "session":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log.Printf("🚀 Starting Chat Session Test on chat %d for %v", *chatID, *duration)
		if err := runSessions(ctx, uint(*chatID), *every, *duration); err != nil {
			stop()
			log.Fatalf("❌ %v", err)
		}
		return
	default:
		log.Fatalf("❌ unknown -mode %q", *mode)
	}

	log.Printf("🚀 Starting Chat Load Test")
	log.Printf("Target: %s chat=%d", *host, *chatID)
	log.Printf("Clients: %d", *clients)
	log.Printf("Duration: %v", *duration)

	token, err := login(*host, *email, *password)
	if err != nil {
		log.Fatalf("❌ Login failed: %v", err)
	}
	log.Printf("✅ Logged in successfully")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	t := target{host: *host, token: token, chatID: uint(*chatID), every: *every}
	stop := make(chan struct{})
	var wg conc.WaitGroup
	for i := 0; i < *clients; i++ {
		id := i
		wg.Go(func() { runClient(t, id, stop) })
		time.Sleep(50 * time.Millisecond) // Stagger connections to allow ticket issuance
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stop)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func postJSON(endpoint, token string, payload any, out any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func login(host, email, password string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	err := postJSON(fmt.Sprintf("http://%s/api/auth/login", host), "", map[string]string{
		"email":    email,
		"password": password,
	}, &result)
	return result.Token, err
}

func getTicket(host, token string) (string, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	err := postJSON(fmt.Sprintf("http://%s/api/ws/ticket", host), token, nil, &result)
	return result.Ticket, err
}

func runClient(t target, id int, stop <-chan struct{}) {
	metrics.ConnectionsAttempted.Add(1)

	// Tickets are single use, so every connection needs its own.
	ticket, err := getTicket(t.host, t.token)
	if err != nil {
		metrics.ConnectionsFailed.Add(1)
		metrics.Errors.Add(1)
		return
	}

	u := url.URL{Scheme: "ws", Host: t.host, Path: "/api/ws/chat", RawQuery: "ticket=" + url.QueryEscape(ticket)}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		metrics.ConnectionsFailed.Add(1)
		metrics.Errors.Add(1)
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = c.Close() }()

	metrics.ConnectionsSuccess.Add(1)

	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			metrics.FramesReceived.Add(1)
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &frame) != nil {
				continue
			}
			switch frame.Type {
			case "message":
				metrics.MessagesReceived.Add(1)
			case "error":
				metrics.Errors.Add(1)
			}
		}
	}()

	if err := c.WriteJSON(map[string]any{"type": "join", "chat_id": t.chatID}); err != nil {
		metrics.Errors.Add(1)
		return
	}

	ticker := time.NewTicker(t.every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if err := c.WriteJSON(map[string]any{"type": "typing", "chat_id": t.chatID, "is_typing": true}); err != nil {
				metrics.Errors.Add(1)
				return
			}
			metrics.TypingSent.Add(1)

			err := c.WriteJSON(map[string]any{
				"type":    "message",
				"chat_id": t.chatID,
				"content": fmt.Sprintf("Load test message from client %d", id),
			})
			if err != nil {
				metrics.Errors.Add(1)
				return
			}
			metrics.MessagesSent.Add(1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", metrics.ConnectionsAttempted.Load())
	log.Printf("Connections Successful: %d", metrics.ConnectionsSuccess.Load())
	log.Printf("Connections Failed: %d", metrics.ConnectionsFailed.Load())
	log.Printf("Messages Sent: %d", metrics.MessagesSent.Load())
	log.Printf("Typing Frames Sent: %d", metrics.TypingSent.Load())
	log.Printf("Frames Received: %d", metrics.FramesReceived.Load())
	log.Printf("Messages Received: %d", metrics.MessagesReceived.Load())
	log.Printf("Total Errors: %d", metrics.Errors.Load())
}
