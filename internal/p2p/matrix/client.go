// Package matrix implements the chat Transport over the Matrix
// client-server API, scoped to a single room.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/escrownet/escrowd/internal/p2p"
	"github.com/escrownet/escrowd/pkg/circuitbreaker"
)

const (
	syncTimeoutMillis = 60_000
	eventsPageLimit   = 1_000_000
)

// Error is a transport failure. Authentication failures and transport-level
// failures are fatal to the p2p listen loop.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("homeserver returned %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("homeserver unreachable: %s", e.Reason)
}

// FatalToListener reports whether the p2p loop must stop on this error.
func (e *Error) FatalToListener() bool {
	return e.Status == 0 ||
		e.Status == http.StatusUnauthorized ||
		e.Status == http.StatusForbidden
}

// Is lets callers match authentication failures with errors.Is.
func (e *Error) Is(target error) bool {
	return target == ErrAuthentication &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// ErrAuthentication matches 401/403 responses from the homeserver.
var ErrAuthentication = errors.New("homeserver rejected access token")

// ClientOpts groups the arguments of NewClient.
type ClientOpts struct {
	HomeserverURL string
	AccessToken   string
	RoomID        string
}

// Client is a room-scoped Matrix client implementing p2p.Transport.
type Client struct {
	baseURL     string
	accessToken string
	roomID      string
	http        *http.Client
	cb          *gobreaker.CircuitBreaker
}

func NewClient(opts ClientOpts) (*Client, error) {
	if opts.HomeserverURL == "" || opts.AccessToken == "" || opts.RoomID == "" {
		return nil, fmt.Errorf("homeserver URL, access token and room ID are all required")
	}
	return &Client{
		baseURL:     strings.TrimSuffix(opts.HomeserverURL, "/"),
		accessToken: opts.AccessToken,
		roomID:      opts.RoomID,
		http:        &http.Client{Timeout: 90 * time.Second},
		cb:          circuitbreaker.NewCircuitBreaker("matrix"),
	}, nil
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
}

type roomEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Sender  string `json:"sender"`
	Content struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	} `json:"content"`
}

type messagesResponse struct {
	Chunk []roomEvent `json:"chunk"`
	End   string      `json:"end"`
}

// Sync long-polls the homeserver and returns the next continuation token.
func (c *Client) Sync(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf(
		"%s/_matrix/client/v3/sync?timeout=%d", c.baseURL, syncTimeoutMillis,
	)
	var response syncResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return "", err
	}
	return response.NextBatch, nil
}

// Events fetches the room's text message events forward from a continuation
// token. An empty token fetches from the start of the room history the
// server still retains.
func (c *Client) Events(ctx context.Context, from string) ([]p2p.TransportEvent, error) {
	endpoint := fmt.Sprintf(
		"%s/_matrix/client/v3/rooms/%s/messages?dir=f&limit=%d",
		c.baseURL, url.PathEscape(c.roomID), eventsPageLimit,
	)
	if from != "" {
		endpoint += "&from=" + url.QueryEscape(from)
	}
	var response messagesResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	events := make([]p2p.TransportEvent, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		if event.Type != "m.room.message" || event.Content.MsgType != "m.text" {
			continue
		}
		events = append(events, p2p.TransportEvent{
			ID:     event.EventID,
			Sender: event.Sender,
			Body:   event.Content.Body,
		})
	}
	return events, nil
}

// SendMessage publishes a text message in the room. The transaction ID
// makes retried sends idempotent on the server side.
func (c *Client) SendMessage(ctx context.Context, body string) error {
	endpoint := fmt.Sprintf(
		"%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		c.baseURL, url.PathEscape(c.roomID), uuid.NewString(),
	)
	request := map[string]string{"msgtype": "m.text", "body": body}
	return c.doRequest(ctx, http.MethodPut, endpoint, request, nil)
}

func (c *Client) doRequest(
	ctx context.Context, method, endpoint string, body, out interface{},
) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = strings.NewReader(string(encoded))
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &Error{Reason: err.Error()}
		}
		defer resp.Body.Close()

		responseBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Reason: err.Error()}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &Error{Status: resp.StatusCode, Reason: string(responseBody)}
		}
		if out != nil {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}
