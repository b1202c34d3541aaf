// Package api talks to the queue service and its signaling mailbox over REST.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/dkeye/VoiceQueue/internal/domain"
	"github.com/goccy/go-json"
)

const DefaultTimeout = 10 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Detail)
}

// Client implements core.Mailbox and core.QueueService.
type Client struct {
	base   string
	client *http.Client
}

var (
	_ core.Mailbox      = (*Client)(nil)
	_ core.QueueService = (*Client)(nil)
)

// NewClient targets base, which includes the /api prefix.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type peersResponse struct {
	Peers []domain.Peer `json:"peers"`
}

func (c *Client) Peers(ctx context.Context, group domain.SubGroupName) ([]domain.Peer, error) {
	q := url.Values{}
	if group != "" {
		q.Set("subGroup", string(group))
	}
	var out peersResponse
	if err := c.do(ctx, "peers", http.MethodGet, "/webrtc/peers?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Peers, nil
}

type signalRequest struct {
	From domain.SessionID  `json:"fromSessionId"`
	To   domain.SessionID  `json:"toSessionId"`
	Kind domain.SignalKind `json:"type"`
	Data json.RawMessage   `json:"data"`
}

func (c *Client) SendSignal(ctx context.Context, env domain.Envelope) error {
	req := signalRequest{From: env.From, To: env.To, Kind: env.Kind, Data: json.RawMessage(env.Data)}
	return c.do(ctx, "send signal", http.MethodPost, "/webrtc/signal", req, nil)
}

type signalsResponse struct {
	Signals []domain.Envelope `json:"signals"`
}

func (c *Client) FetchSignals(ctx context.Context, sid domain.SessionID) ([]domain.Envelope, error) {
	var out signalsResponse
	if err := c.do(ctx, "fetch signals", http.MethodGet, "/webrtc/signals/"+url.PathEscape(string(sid)), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Signals {
		out.Signals[i].To = sid
	}
	return out.Signals, nil
}

type joinRequest struct {
	Name     string              `json:"name"`
	SubGroup domain.SubGroupName `json:"subGroup"`
}

func (c *Client) Join(ctx context.Context, name string, group domain.SubGroupName) (domain.JoinResult, error) {
	if group == "" {
		group = domain.DefaultSubGroup
	}
	var out domain.JoinResult
	if err := c.do(ctx, "join", http.MethodPost, "/queue/join", joinRequest{Name: name, SubGroup: group}, &out); err != nil {
		return domain.JoinResult{}, err
	}
	if !out.SessionID.Valid() {
		return domain.JoinResult{}, fmt.Errorf("join: server returned no session id")
	}
	return out, nil
}

func (c *Client) Leave(ctx context.Context, sid domain.SessionID) error {
	return c.do(ctx, "leave", http.MethodDelete, "/queue/leave/"+url.PathEscape(string(sid)), nil, nil)
}

// Status maps every non-2xx answer to core.ErrSessionInvalid. Transport
// errors are returned as-is so the caller can tell them apart.
func (c *Client) Status(ctx context.Context, sid domain.SessionID) (domain.QueueStatus, error) {
	var out domain.QueueStatus
	err := c.do(ctx, "status", http.MethodGet, "/queue/status/"+url.PathEscape(string(sid)), nil, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return domain.QueueStatus{}, fmt.Errorf("%w: %v", core.ErrSessionInvalid, err)
		}
		return domain.QueueStatus{}, err
	}
	return out, nil
}

type actionRequest struct {
	SessionID domain.SessionID   `json:"sessionId"`
	Action    domain.QueueAction `json:"action"`
}

func (c *Client) Action(ctx context.Context, sid domain.SessionID, action domain.QueueAction) error {
	return c.do(ctx, "action "+string(action), http.MethodPost, "/queue/action", actionRequest{SessionID: sid, Action: action}, nil)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal failed: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb errorBody
		detail := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Detail != "" {
				detail = eb.Detail
			} else if eb.Error != "" {
				detail = eb.Error
			}
		}
		return &StatusError{Op: op, Code: resp.StatusCode, Detail: detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode failed: %w", op, err)
	}
	return nil
}
