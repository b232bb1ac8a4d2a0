package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// transport is the closed set of ways to speak JSON-RPC with a capability
// server: stdio subprocess, HTTP endpoint, or websocket session. Selected
// at connect time by which spec fields are present.
type transport interface {
	call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	close() error
}

// defaultCallTimeout bounds one request/response round trip
const defaultCallTimeout = 30 * time.Second

// stdioTransport speaks newline-delimited JSON-RPC over a child process's
// standard input/output. Diagnostic output on stderr is forwarded to the
// process log.
type stdioTransport struct {
	serverName string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	id      int
	pending map[int]chan *rpcResponse
	closed  bool
}

// newStdioTransport spawns the server process and starts the response
// listener. The initialize handshake is the caller's responsibility.
func newStdioTransport(serverName, command string, args []string, env map[string]string) (*stdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	t := &stdioTransport{
		serverName: serverName,
		process:    cmd,
		stdin:      stdin,
		pending:    make(map[int]chan *rpcResponse),
	}

	go t.listen(stdout)
	go t.drainStderr(stderr)

	return t, nil
}

func (t *stdioTransport) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
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

	// Stream ended: the process exited or closed stdout. Fail anything
	// still waiting instead of letting callers block until timeout.
	t.failPending("server stream closed")
}

func (t *stdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Debug().Str("server", t.serverName).Str("stderr", scanner.Text()).Msg("Server diagnostic output")
	}
}

func (t *stdioTransport) failPending(reason string) {
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

func (t *stdioTransport) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.id++
	id := t.id
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("broken pipe to server: %w", err)
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

func (t *stdioTransport) close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		if err := t.process.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
			return err
		}
		// Reap the child so it does not linger as a zombie
		_ = t.process.Wait()
	}
	return nil
}
