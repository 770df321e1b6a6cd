// Package rpc implements the bidirectional JSON-RPC transport: clients POST
// envelopes to a per-stream endpoint and receive responses — plus any
// server-initiated requests — on a long-lived SSE stream.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/opencode-ai/opencode/internal/apperr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Router dispatches a client request/notification by method name. It is
// implemented by internal/dispatch's tool registry; rpc itself knows
// nothing about tool semantics.
type Router interface {
	Handle(ctx context.Context, streamID, method string, params json.RawMessage) (any, error)
}

// Config bounds transport-level timeouts and backpressure, mirroring
// types.RPCConfig.
type Config struct {
	RequestDeadline time.Duration
	MaxQueueDepth   int
	SSEHeartbeat    time.Duration
}

// FromRPCConfig converts types.RPCConfig (as loaded from config) into a
// transport Config.
func FromRPCConfig(cfg types.RPCConfig) Config {
	return Config{
		RequestDeadline: time.Duration(cfg.RequestDeadlineSec) * time.Second,
		MaxQueueDepth:   cfg.MaxQueueDepth,
		SSEHeartbeat:    time.Duration(cfg.SSEHeartbeatSeconds) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 10 * time.Minute
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 32
	}
	if c.SSEHeartbeat <= 0 {
		c.SSEHeartbeat = 30 * time.Second
	}
	return c
}

// Server holds every open SSE stream and dispatches POSTed envelopes to
// Router, the way internal/mcp's StdioTransport holds one pending map per
// subprocess connection — generalized here to one pending map (and one
// outbound queue) per HTTP client connection.
type Server struct {
	cfg    Config
	router Router
	log    zerolog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewServer constructs a Server that dispatches through router.
func NewServer(router Router, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		router:  router,
		log:     log,
		streams: make(map[string]*Stream),
	}
}

// Stream is one client's SSE connection plus the POST endpoint bound to it.
// outbox carries every message queued for the SSE writer; pending
// correlates server-initiated requests (sampling/createMessage) with their
// client-sent responses.
type Stream struct {
	id  string
	srv *Server

	outbox chan types.JsonRpcEnvelope

	mu        sync.Mutex
	pending   map[string]chan *types.JsonRpcEnvelope
	nextReqID int64
	closed    bool

	samplingCapable bool

	limiter *rate.Limiter

	queueDepth int32
}

// ServeSSE handles GET /mcp/sse: registers a new Stream, emits the
// handshake endpoint event, then relays outbox messages and heartbeats
// until the client disconnects, following internal/server/sse.go's
// ResponseController-then-Flusher write pattern and heartbeat ticker.
func (s *Server) ServeSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)

	id := ulid.Make().String()
	stream := &Stream{
		id:      id,
		srv:     s,
		outbox:  make(chan types.JsonRpcEnvelope, 32),
		pending: make(map[string]chan *types.JsonRpcEnvelope),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MaxQueueDepth), s.cfg.MaxQueueDepth),
	}

	s.mu.Lock()
	s.streams[id] = stream
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		stream.closeLocked()
	}()

	w.WriteHeader(http.StatusOK)
	endpoint := fmt.Sprintf("/mcp/message?sessionId=%s", id)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	if err := rc.Flush(); err != nil {
		flusher.Flush()
	}

	ticker := time.NewTicker(s.cfg.SSEHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-stream.outbox:
			if !ok {
				return
			}
			if err := writeSSEData(w, env); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				flusher.Flush()
			}
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			if err := rc.Flush(); err != nil {
				flusher.Flush()
			}
		}
	}
}

// writeSSEData writes env as a single data: field. json.Marshal escapes any
// newline inside a string value (e.g. a long stack trace in an error
// message), so the encoded payload never spans lines; spec §6's multi-line
// data: framing is handled on the reading side.
func writeSSEData(w http.ResponseWriter, env types.JsonRpcEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", body)
	return err
}

// ServeMessage handles POST /mcp/message?sessionId=…: client requests and
// notifications are queued for async dispatch and acknowledged with 202;
// client responses to server-initiated requests complete the matching
// pending entry synchronously. Backpressure follows spec §5: once
// MaxQueueDepth requests are in flight on a stream, further POSTs get 429
// until earlier requests finish.
func (s *Server) ServeMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	s.mu.RLock()
	stream, ok := s.streams[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	var env types.JsonRpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSONError(w, http.StatusBadRequest, types.RPCParseError, "invalid JSON-RPC envelope")
		return
	}

	if env.IsResponse() {
		stream.completePending(&env)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !env.IsRequest() && !env.IsNotification() {
		writeJSONError(w, http.StatusBadRequest, types.RPCInvalidRequest, "envelope is neither request, notification, nor response")
		return
	}

	if int(atomic.LoadInt32(&stream.queueDepth)) >= s.cfg.MaxQueueDepth {
		http.Error(w, "per-session queue depth exceeded", http.StatusTooManyRequests)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	if env.Method == "initialize" {
		stream.handleInitialize(env.Params)
	}

	go s.dispatch(stream, env)
}

func (s *Server) dispatch(stream *Stream, env types.JsonRpcEnvelope) {
	atomic.AddInt32(&stream.queueDepth, 1)
	defer atomic.AddInt32(&stream.queueDepth, -1)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestDeadline)
	defer cancel()

	result, err := s.router.Handle(ctx, stream.id, env.Method, env.Params)
	if env.ID == nil {
		return // notification: no response expected
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
	stream.send(resp)
}

func (st *Stream) handleInitialize(params json.RawMessage) {
	var p types.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	st.mu.Lock()
	st.samplingCapable = p.Capabilities.Sampling != nil
	st.mu.Unlock()
}

// send enqueues env onto the stream's outbox. A full outbox means the
// client is too slow to keep up; per spec §5 the stream is closed rather
// than letting the queue grow unbounded, and the client is expected to
// reconnect.
func (st *Stream) send(env types.JsonRpcEnvelope) {
	select {
	case st.outbox <- env:
	default:
		st.closeLocked()
	}
}

// Request issues a server-initiated request (e.g. sampling/createMessage)
// on this stream and blocks until the client's response arrives or ctx is
// done. Returns apperr.TransportLost if the stream closes while waiting,
// and apperr.Preconditioned if the client never declared sampling support.
func (st *Stream) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method == "sampling/createMessage" {
		st.mu.Lock()
		capable := st.samplingCapable
		st.mu.Unlock()
		if !capable {
			return nil, apperr.New(apperr.Preconditioned, "client did not declare sampling.tools capability")
		}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal request params", err)
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, apperr.New(apperr.TransportLost, "stream is closed")
	}
	id := fmt.Sprintf("srv-%d", atomic.AddInt64(&st.nextReqID, 1))
	ch := make(chan *types.JsonRpcEnvelope, 1)
	st.pending[id] = ch
	st.mu.Unlock()

	st.send(types.JsonRpcEnvelope{JSONRPC: "2.0", ID: id, Method: method, Params: raw})

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, apperr.New(apperr.TransportLost, "stream closed while awaiting response")
		}
		if resp.Error != nil {
			return nil, apperr.Newf(apperr.Internal, "client returned JSON-RPC error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		st.mu.Lock()
		delete(st.pending, id)
		st.mu.Unlock()
		return nil, apperr.Wrap(apperr.Timeout, "server-initiated request cancelled", ctx.Err())
	}
}

func (st *Stream) completePending(env *types.JsonRpcEnvelope) {
	id, ok := env.ID.(string)
	if !ok {
		return
	}
	st.mu.Lock()
	ch, ok := st.pending[id]
	if ok {
		delete(st.pending, id)
	}
	st.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (st *Stream) closeLocked() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	pending := st.pending
	st.pending = make(map[string]chan *types.JsonRpcEnvelope)
	st.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Stream looks up an open stream by id, for callers (the AI orchestrator)
// that need to issue server-initiated requests against a specific session.
func (s *Server) Stream(id string) (*Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return st, ok
}

func writeJSONError(w http.ResponseWriter, status, rpcCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := types.JsonRpcEnvelope{
		JSONRPC: "2.0",
		Error:   &types.JsonRpcError{Code: rpcCode, Message: message},
	}
	_ = json.NewEncoder(w).Encode(env)
}
