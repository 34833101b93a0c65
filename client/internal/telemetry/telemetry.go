// Package telemetry ships product analytics events. Delivery is
// fire-and-forget: events the collector cannot accept are dropped, never
// retried, and a failure to deliver is never surfaced to callers.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	queueDepth     = 256
	requestTimeout = 10 * time.Second
)

// Recorder accepts named events with flat string property maps.
type Recorder interface {
	Record(name string, properties map[string]string)
}

// Event is the wire format accepted by the collector.
type Event struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Time       time.Time         `json:"time"`
	AppVersion string            `json:"app_version"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Client posts events to an HTTP collector from a single worker
// goroutine. A full queue drops the newest event rather than blocking the
// caller.
type Client struct {
	endpoint   string
	appVersion string
	httpClient *http.Client

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewClient starts the delivery worker. An empty endpoint yields a client
// that logs events at debug level and sends nothing.
func NewClient(endpoint, appVersion string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		endpoint:   endpoint,
		appVersion: appVersion,
		httpClient: &http.Client{Timeout: requestTimeout},
		events:     make(chan Event, queueDepth),
		cancel:     cancel,
	}

	c.wg.Add(1)
	go c.deliverLoop(ctx)

	return c
}

// Record enqueues an event. Safe to call from any goroutine.
func (c *Client) Record(name string, properties map[string]string) {
	ev := Event{
		ID:         uuid.NewString(),
		Name:       name,
		Time:       time.Now().UTC(),
		AppVersion: c.appVersion,
		Properties: properties,
	}

	select {
	case c.events <- ev:
	default:
		log.Debugf("telemetry queue full, dropping event %s", name)
	}
}

// Close stops the worker after the already queued events were attempted.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.events)
		c.wg.Wait()
		c.cancel()
	})
	return nil
}

func (c *Client) deliverLoop(ctx context.Context) {
	defer c.wg.Done()

	for ev := range c.events {
		if c.endpoint == "" {
			log.Debugf("telemetry event %s: %v", ev.Name, ev.Properties)
			continue
		}
		if err := c.deliver(ctx, ev); err != nil {
			log.Debugf("failed to deliver telemetry event %s: %v", ev.Name, err)
		}
	}
}

func (c *Client) deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	return nil
}
