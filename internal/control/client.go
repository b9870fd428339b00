package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jask/moneysync/internal/syncer"
)

// Client talks to a daemon over its control socket.
type Client struct {
	http *http.Client
}

func NewClient(path string) *Client {
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &Client{http: &http.Client{Transport: tr}}
}

// Status returns the daemon's view of the sync state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	reply, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return Status{}, err
	}
	if reply.Status == nil {
		return Status{}, errors.New("control: empty status reply")
	}
	return reply.Status.decoded(), nil
}

// Sync runs a pass in the daemon and waits for it.
func (c *Client) Sync(ctx context.Context) (syncer.Result, error) {
	reply, err := c.do(ctx, http.MethodPost, "/sync")
	if reply.Result == nil {
		return syncer.Result{Outcome: syncer.Failed}, err
	}
	return *reply.Result, err
}

// Force applies one of ForceLocal, ForceServer or ClearServer.
func (c *Client) Force(ctx context.Context, action string) (Status, error) {
	reply, err := c.do(ctx, http.MethodPost, "/force/"+action)
	if err != nil {
		return Status{}, err
	}
	if reply.Status == nil {
		return Status{}, nil
	}
	return reply.Status.decoded(), nil
}

// decoded restores the server flag, which State keeps out of its JSON form.
func (s *Status) decoded() Status {
	out := *s
	out.State.ForceServerSync = s.ForceServerSync
	return out
}

func (c *Client) do(ctx context.Context, method, path string) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://moneysync"+path, nil)
	if err != nil {
		return Reply{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("control %s: %w", path, err)
	}
	defer resp.Body.Close()
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("control %s: decode response: %w", path, err)
	}
	if reply.Error != "" {
		return reply, errors.New(reply.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return reply, fmt.Errorf("control %s: %s", path, resp.Status)
	}
	return reply, nil
}
