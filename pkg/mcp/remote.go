package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// httpTransport speaks JSON-RPC over HTTP POST: one request per round
// trip, session identity carried by the caller-supplied headers.
type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu sync.Mutex
	id int
}

func newHTTPTransport(url string, headers map[string]string) *httpTransport {
	return &httpTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: defaultCallTimeout},
	}
}

func (t *httpTransport) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	t.id++
	id := t.id
	t.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("server connection failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", httpResp.StatusCode)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read server response: %w", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server error (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	return resp.Result, nil
}

func (t *httpTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}

// wsTransport speaks JSON-RPC over one long-lived websocket session,
// multiplexing concurrent requests by id like the stdio transport.
type wsTransport struct {
	serverName string
	conn       *websocket.Conn

	mu      sync.Mutex
	id      int
	pending map[int]chan *rpcResponse
	closed  bool
}

func newWSTransport(serverName, url string, headers map[string]string) (*wsTransport, error) {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	t := &wsTransport{
		serverName: serverName,
		conn:       conn,
		pending:    make(map[int]chan *rpcResponse),
	}
	go t.listen()

	return t, nil
}

func (t *wsTransport) listen() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.failPending("websocket closed")
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Error().Err(err).Str("server", t.serverName).Msg("Failed to unmarshal server response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			t.mu.Lock()
			ch, exists := t.pending[int(id)]
			if exists {
				delete(t.pending, int(id))
			}
			t.mu.Unlock()
			if exists {
				ch <- &resp
			}
		}
	}
}

func (t *wsTransport) failPending(reason string) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int]chan *rpcResponse)
	t.mu.Unlock()

	for id, ch := range pending {
		ch <- &rpcResponse{
			ID:    float64(id),
			Error: &rpcError{Code: -32000, Message: reason},
		}
	}
}

func (t *wsTransport) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.id++
	id := t.id
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	err := t.conn.WriteJSON(req)
	t.mu.Unlock()

	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("websocket write failed: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("server error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(defaultCallTimeout):
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("request timeout for %s", method)
	}
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
