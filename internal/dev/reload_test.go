package dev

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	mu     sync.Mutex
	tokens []string
	fail   bool
	closed bool
}

func (c *fakeConn) Send(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("broken pipe")
	}
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestBroadcaster_SendsToAllAndPrunesFailures(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	good := &fakeConn{}
	bad := &fakeConn{fail: true}
	b.Open(good)
	b.Open(bad)

	if sent := b.Broadcast(TokenContent); sent != 1 {
		t.Errorf("Broadcast() = %d, want 1", sent)
	}
	if b.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1 after pruning", b.ClientCount())
	}
	if !bad.closed {
		t.Error("failed connection was not closed")
	}
	if len(good.tokens) != 1 || good.tokens[0] != TokenContent {
		t.Errorf("tokens = %v", good.tokens)
	}
}

func TestBroadcaster_DeregisterAndNoReplay(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	first := &fakeConn{}
	deregister := b.Open(first)
	b.Broadcast(TokenStylesheet)

	late := &fakeConn{}
	b.Open(late)
	deregister()
	b.Broadcast(TokenBundle)

	if len(first.tokens) != 1 {
		t.Errorf("deregistered connection got %v", first.tokens)
	}
	if len(late.tokens) != 1 || late.tokens[0] != TokenBundle {
		t.Errorf("late connection got %v, want only %q", late.tokens, TokenBundle)
	}
}

func TestBroadcaster_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b := NewBroadcaster(zerolog.Nop(), m)
	b.Open(&fakeConn{})
	b.Broadcast(TokenContent)
	b.Broadcast(TokenContent)

	if got := testutil.ToFloat64(m.clients); got != 1 {
		t.Errorf("clients gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.broadcasts.WithLabelValues(TokenContent)); got != 2 {
		t.Errorf("broadcasts = %v, want 2", got)
	}
}

func TestBroadcaster_ServeSSE(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if c := resp.Header.Get("Connection"); c != "" && c != "keep-alive" {
		t.Errorf("Connection = %q", c)
	}

	eventually(t, "stream registration", func() bool { return b.ClientCount() == 1 })
	b.Broadcast(TokenBundle)

	lines := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	select {
	case line := <-lines:
		if line != "data: elm.js" {
			t.Errorf("frame = %q, want %q", line, "data: elm.js")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for SSE frame")
	}

	cancel()
	eventually(t, "stream deregistration", func() bool { return b.ClientCount() == 0 })
}

func TestBroadcaster_ServeWebSocket(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	eventually(t, "websocket registration", func() bool { return b.ClientCount() == 1 })
	b.Broadcast(TokenStylesheet)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != TokenStylesheet {
		t.Errorf("message = %q, want %q", msg, TokenStylesheet)
	}

	conn.Close()
	eventually(t, "websocket deregistration", func() bool { return b.ClientCount() == 0 })
}
