package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SSETransport posts requests like the HTTP transport and additionally
// holds a long-lived SSE stream open for server notifications.
type SSETransport struct {
	http   *HTTPTransport
	logger *slog.Logger

	events    chan *Notification
	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSSETransport creates an SSE transport for cfg.
func NewSSETransport(cfg *ServerConfig) *SSETransport {
	return &SSETransport{
		http:     NewHTTPTransport(cfg),
		logger:   slog.Default().With("mcp_server", cfg.Name, "transport", "sse"),
		events:   make(chan *Notification, 100),
		stopChan: make(chan struct{}),
	}
}

func (t *SSETransport) Connect(ctx context.Context) error {
	if err := t.http.Connect(ctx); err != nil {
		return err
	}
	t.connected.Store(true)
	t.wg.Add(1)
	go t.listen()
	return nil
}

func (t *SSETransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	close(t.stopChan)
	err := t.http.Close()
	t.wg.Wait()
	return err
}

func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.http.Call(ctx, method, params)
}

func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	return t.http.Notify(ctx, method, params)
}

func (t *SSETransport) Events() <-chan *Notification { return t.events }

func (t *SSETransport) Connected() bool { return t.connected.Load() }

// listen keeps one SSE stream open, reconnecting with a fixed backoff
// until the transport closes.
func (t *SSETransport) listen() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		if err := t.stream(); err != nil {
			t.logger.Warn("sse stream ended", "error", err)
		}

		select {
		case <-t.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *SSETransport) stream() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.stopChan
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.http.config.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.http.config.Headers {
		req.Header.Set(k, v)
	}

	// No client timeout here; the stream is expected to stay open.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var notif Notification
		if err := json.Unmarshal([]byte(payload), &notif); err != nil || notif.Method == "" {
			continue
		}
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
	}
	return scanner.Err()
}
