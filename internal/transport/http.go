package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jask/moneysync/internal/conflict"
)

// HTTP talks to a relay.
type HTTP struct {
	base     *url.URL
	token    string
	deviceID string
	client   *http.Client
}

type HTTPOption func(*HTTP)

func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

func WithDeviceID(id string) HTTPOption {
	return func(h *HTTP) { h.deviceID = id }
}

// WithTimeout bounds each request. Zero keeps the default of 15s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	h := &HTTP{base: u, client: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HTTP) endpoint(parts ...string) string {
	u := *h.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/" + strings.Join(parts, "/")
	return u.String()
}

func (h *HTTP) header() http.Header {
	hdr := http.Header{}
	if h.token != "" {
		hdr.Set("Authorization", "Bearer "+h.token)
	}
	if h.deviceID != "" {
		hdr.Set("X-Device-ID", h.deviceID)
	}
	return hdr
}

func (h *HTTP) Pull(ctx context.Context, entity string) (conflict.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint("snapshots", entity), nil)
	if err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: err}
	}
	req.Header = h.header()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return conflict.Snapshot{}, nil
	}
	if err := statusError(resp); err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: err}
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Records == nil {
		env.Records = conflict.Snapshot{}
	}
	return env.Records, nil
}

func (h *HTTP) Push(ctx context.Context, entity string, snap conflict.Snapshot) error {
	body, err := json.Marshal(Envelope{Entity: entity, Records: snap, DeviceID: h.deviceID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.endpoint("snapshots", entity), bytes.NewReader(body))
	if err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	req.Header = h.header()
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Subscribe opens the relay's change feed. The channel closes when ctx ends
// or the connection drops.
func (h *HTTP) Subscribe(ctx context.Context) (<-chan Event, error) {
	u := *h.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/events"

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h.header()})
	if err != nil {
		return nil, &Error{Op: "subscribe", Err: err}
	}
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var ev Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return
			}
			if ev.DeviceID != "" && ev.DeviceID == h.deviceID {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
