// Package rpcclient implements the client side of the bidirectional
// JSON-RPC transport: it opens the server's SSE stream, POSTs requests to
// the endpoint the handshake names, correlates responses by id, and
// dispatches server-initiated requests (sampling) to registered handlers.
package rpcclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// ServerRequestHandler answers a server-initiated request such as
// sampling/createMessage.
type ServerRequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Config bounds client-side reconnect behavior.
type Config struct {
	BaseURL              string
	ClientInfo           types.ClientInfo
	SamplingToolsSupport bool
	ReconnectMaxElapsed  time.Duration
}

// Client is one logical connection to the server's /mcp/sse + /mcp/message
// pair. It survives transport loss by reconnecting with exponential
// backoff; in-flight requests at the time of a disconnect fail with
// apperr.TransportLost and are never automatically retried, per spec §4.G
// ("the protocol does not guarantee exactly-once").
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]ServerRequestHandler

	mu         sync.Mutex
	endpoint   string
	pending    map[string]chan *types.JsonRpcEnvelope
	nextID     int64
	body       io.ReadCloser
	streamDone chan struct{}
	closed     bool

	stopped chan struct{}
}

// New constructs a Client against cfg.BaseURL. Call Connect to establish
// the first SSE stream before issuing requests.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		log:        log,
		handlers:   make(map[string]ServerRequestHandler),
		pending:    make(map[string]chan *types.JsonRpcEnvelope),
		stopped:    make(chan struct{}),
	}
}

// RegisterHandler installs h to answer server-initiated requests for
// method, e.g. "sampling/createMessage".
func (c *Client) RegisterHandler(method string, h ServerRequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// Connect opens the SSE stream, waits for the endpoint handshake event,
// starts the background read loop, and performs the initialize handshake.
// If the stream later dies, the read loop reconnects on its own; Connect
// itself is only called once by the caller.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.connectOnce(ctx); err != nil {
		return err
	}
	go c.readLoopWithReconnect(ctx)

	caps := types.ClientCapabilities{}
	if c.cfg.SamplingToolsSupport {
		caps.Sampling = &types.SamplingCapability{Tools: map[string]any{}}
	}
	_, err := c.Call(ctx, "initialize", types.InitializeParams{
		ProtocolVersion: types.ProtocolVersion,
		ClientInfo:      c.cfg.ClientInfo,
		Capabilities:    caps,
	})
	return err
}

func (c *Client) connectOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/mcp/sse", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.TransportLost, "open SSE stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return apperr.Newf(apperr.TransportLost, "SSE stream returned status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	endpoint, err := readEndpointEvent(reader)
	if err != nil {
		resp.Body.Close()
		return apperr.Wrap(apperr.TransportLost, "read endpoint handshake", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.body = resp.Body
	c.endpoint = c.cfg.BaseURL + endpoint
	c.streamDone = done
	c.mu.Unlock()

	go c.pump(reader, done)
	return nil
}

// readEndpointEvent consumes SSE lines up to and including the mandatory
// "event: endpoint" / "data: <url>" pair, per spec §4.F's handshake.
func readEndpointEvent(r *bufio.Reader) (string, error) {
	sawEndpointEvent := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event: endpoint"):
			sawEndpointEvent = true
		case strings.HasPrefix(line, "data: "):
			return strings.TrimPrefix(line, "data: "), nil
		case line == "" && sawEndpointEvent:
			// tolerate servers that omit event: lines entirely
		}
	}
}

// pump reads SSE frames from the stream, reassembling multi-line data:
// fields per spec §6, and dispatches each parsed envelope. done is closed
// when the stream ends, letting readLoopWithReconnect know it is safe to
// open a new connection.
func (c *Client) pump(r *bufio.Reader, done chan struct{}) {
	defer close(done)
	var data bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			c.onTransportLost()
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 {
				c.handleFrame(data.Bytes())
				data.Reset()
			}
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, ":"):
			// heartbeat comment, ignore
		}
	}
}

func (c *Client) handleFrame(raw []byte) {
	var env types.JsonRpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // per spec §6: only JSON payloads with id or method+id dispatch
	}
	if env.ID == nil && env.Method == "" {
		return
	}

	if env.IsResponse() {
		c.completePending(&env)
		return
	}

	if env.Method != "" {
		go c.dispatchServerRequest(env)
	}
}

func (c *Client) dispatchServerRequest(env types.JsonRpcEnvelope) {
	c.handlersMu.RLock()
	h, ok := c.handlers[env.Method]
	c.handlersMu.RUnlock()

	if !ok {
		if env.ID != nil {
			c.sendResponse(types.JsonRpcEnvelope{
				JSONRPC: "2.0",
				ID:      env.ID,
				Error:   &types.JsonRpcError{Code: types.RPCMethodNotFound, Message: fmt.Sprintf("no handler for %s", env.Method)},
			})
		}
		return
	}

	result, err := h(context.Background(), env.Params)
	if env.ID == nil {
		return
	}
	resp := types.JsonRpcEnvelope{JSONRPC: "2.0", ID: env.ID}
	if err != nil {
		resp.Error = apperr.ToJSONRPCError(err)
	} else {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = &types.JsonRpcError{Code: types.RPCInternalError, Message: marshalErr.Error()}
		} else {
			resp.Result = raw
		}
	}
	c.sendResponse(resp)
}

func (c *Client) completePending(env *types.JsonRpcEnvelope) {
	id, ok := env.ID.(string)
	if !ok {
		if f, isFloat := env.ID.(float64); isFloat {
			id = fmt.Sprintf("%d", int64(f))
		}
	}
	c.mu.Lock()
	ch, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if found {
		ch <- env
	}
}

// onTransportLost fails every pending request with apperr.TransportLost,
// per spec §4.G: "pending promises fail with TransportLost; the client
// reconnects ... and re-issues no requests."
func (c *Client) onTransportLost() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *types.JsonRpcEnvelope)
	c.mu.Unlock()

	lost := apperr.New(apperr.TransportLost, "SSE stream disconnected")
	for _, ch := range pending {
		ch <- &types.JsonRpcEnvelope{Error: apperr.ToJSONRPCError(lost)}
	}
}

// readLoopWithReconnect reconnects the SSE stream with exponential backoff
// whenever the underlying connection drops, following the same
// cenkalti/backoff configuration internal/session/loop.go uses for LLM API
// retries, generalized here to transport reconnects.
func (c *Client) readLoopWithReconnect(ctx context.Context) {
	// Connect already opened the first stream via connectOnce; wait on its
	// death before ever reconnecting, so this loop never races a second
	// connection in behind the one the caller is actively using.
	for {
		c.waitForDisconnect()

		select {
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = c.cfg.ReconnectMaxElapsed
		bo := backoff.WithContext(b, ctx)

		err := backoff.Retry(func() error {
			select {
			case <-c.stopped:
				return backoff.Permanent(fmt.Errorf("client closed"))
			default:
			}
			return c.connectOnce(ctx)
		}, bo)
		if err != nil {
			c.log.Warn().Err(err).Msg("rpcclient: giving up reconnecting")
			return
		}
	}
}

func (c *Client) waitForDisconnect() {
	c.mu.Lock()
	done := c.streamDone
	c.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// Call issues a client-initiated request and blocks for the matching
// response, honoring ctx's deadline.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal request params", err)
	}

	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	ch := make(chan *types.JsonRpcEnvelope, 1)

	c.mu.Lock()
	endpoint := c.endpoint
	c.pending[id] = ch
	c.mu.Unlock()

	if endpoint == "" {
		return nil, apperr.New(apperr.TransportLost, "not connected")
	}

	env := types.JsonRpcEnvelope{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	if err := c.post(ctx, endpoint, env); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			code := apperr.Internal
			switch d := resp.Error.Data.(type) {
			case map[string]string:
				if c := d["code"]; c != "" {
					code = apperr.Code(c)
				}
			case map[string]any:
				if c, ok := d["code"].(string); ok && c != "" {
					code = apperr.Code(c)
				}
			}
			return nil, apperr.Newf(code, "server returned JSON-RPC error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, apperr.Wrap(apperr.Timeout, "request cancelled", ctx.Err())
	}
}

// Notify sends a one-way notification; no response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal notification params", err)
	}
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == "" {
		return apperr.New(apperr.TransportLost, "not connected")
	}
	return c.post(ctx, endpoint, types.JsonRpcEnvelope{JSONRPC: "2.0", Method: method, Params: raw})
}

func (c *Client) sendResponse(env types.JsonRpcEnvelope) {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == "" {
		return
	}
	_ = c.post(context.Background(), endpoint, env)
}

func (c *Client) post(ctx context.Context, endpoint string, env types.JsonRpcEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal envelope", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.TransportLost, "POST to transport", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperr.New(apperr.QuotaExceeded, "server-side queue depth exceeded")
	}
	if resp.StatusCode != http.StatusAccepted {
		return apperr.Newf(apperr.TransportLost, "unexpected status %d from transport", resp.StatusCode)
	}
	return nil
}

// Close tears down the client's stream and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	body := c.body
	c.mu.Unlock()

	close(c.stopped)
	if body != nil {
		return body.Close()
	}
	return nil
}
