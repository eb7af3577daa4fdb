package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// CreateRequest is the body of POST /canvases. An empty ID asks the server to
// assign one.
type CreateRequest struct {
	ID       string `json:"id,omitempty"`
	Data     string `json:"data"`
	ViewOnly bool   `json:"viewOnly"`
}

// PutRequest is the body of PUT /canvases/{id}.
type PutRequest struct {
	Data string `json:"data"`
}

// RemoteStore implements Store against a sketchsync server: documents over
// the HTTP API, watches over the websocket push endpoint with exponential
// backoff reconnects.
type RemoteStore struct {
	baseUrl *url.URL
	client  *http.Client
}

var _ Store = (*RemoteStore)(nil)

func NewRemoteStore(baseUrl string) (*RemoteStore, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	return &RemoteStore{baseUrl: u, client: http.DefaultClient}, nil
}

func (r *RemoteStore) Get(ctx context.Context, id string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseUrl.JoinPath("canvases", id).String(), nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to build request: %w", err)
	}
	return r.do(req, http.StatusOK)
}

func (r *RemoteStore) Create(ctx context.Context, doc Document) (Document, error) {
	body, err := json.Marshal(CreateRequest{ID: doc.ID, Data: doc.Data, ViewOnly: doc.ViewOnly})
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseUrl.JoinPath("canvases").String(), bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, http.StatusCreated)
}

func (r *RemoteStore) Put(ctx context.Context, id string, data string) (Document, error) {
	body, err := json.Marshal(PutRequest{Data: data})
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseUrl.JoinPath("canvases", id).String(), bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, http.StatusOK)
}

func (r *RemoteStore) do(req *http.Request, wantStatus int) (Document, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to %s: %w", req.Method, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case wantStatus:
	case http.StatusNotFound:
		return Document{}, ErrNotFound
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Document{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(raw))
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return doc, nil
}

func (r *RemoteStore) watchUrl(id string) string {
	u := r.baseUrl.JoinPath("canvases", id, "watch")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func (r *RemoteStore) Watch(ctx context.Context, id string, fn func(Document)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0
		for {
			if err := r.watchOnce(ctx, id, fn); err != nil && ctx.Err() == nil {
				slog.Error("watch connection lost", "canvas", id, "err", err)
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel, nil
}

func (r *RemoteStore) watchOnce(ctx context.Context, id string, fn func(Document)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.watchUrl(id), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// Deliver the current document once per connection, so that a write that
	// landed in the gap before the socket was established (or while a
	// reconnect was backing off) is not lost. Consumers are expected to
	// tolerate duplicate delivery.
	if doc, err := r.Get(ctx, id); err == nil {
		fn(doc)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var doc Document
		if err := json.Unmarshal(p, &doc); err != nil {
			slog.Error("failed to decode pushed document", "canvas", id, "err", err)
			continue
		}
		fn(doc)
	}
}

func (r *RemoteStore) Close() error {
	return nil
}
