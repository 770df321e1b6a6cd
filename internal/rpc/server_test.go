package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/pkg/types"
)

type fakeRouter struct {
	handle func(ctx context.Context, streamID, method string, params json.RawMessage) (any, error)
}

func (r *fakeRouter) Handle(ctx context.Context, streamID, method string, params json.RawMessage) (any, error) {
	return r.handle(ctx, streamID, method, params)
}

// openStream drives ServeSSE through an httptest server and returns the
// endpoint URL for POSTs plus a scanner over the raw SSE body.
func openStream(t *testing.T, srv *Server) (endpoint string, lines *bufio.Scanner, closeFn func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", srv.ServeSSE)
	mux.HandleFunc("/mcp/message", srv.ServeMessage)
	ts := httptest.NewServer(mux)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /mcp/sse: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		t.Fatalf("expected endpoint event line, scan error: %v", scanner.Err())
	}
	if !strings.HasPrefix(scanner.Text(), "event: endpoint") {
		t.Fatalf("expected endpoint event, got %q", scanner.Text())
	}
	if !scanner.Scan() {
		t.Fatal("expected endpoint data line")
	}
	dataLine := scanner.Text()
	if !strings.HasPrefix(dataLine, "data: ") {
		t.Fatalf("expected data: line, got %q", dataLine)
	}
	endpoint = ts.URL + strings.TrimPrefix(dataLine, "data: ")

	return endpoint, scanner, func() {
		resp.Body.Close()
		ts.Close()
	}
}

func nextDataEnvelope(t *testing.T, scanner *bufio.Scanner) types.JsonRpcEnvelope {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ": heartbeat") {
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			var env types.JsonRpcEnvelope
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			return env
		}
	}
	t.Fatalf("scanner ended without a data line: %v", scanner.Err())
	return types.JsonRpcEnvelope{}
}

func TestServeSSE_EmitsEndpointEvent(t *testing.T) {
	srv := NewServer(&fakeRouter{}, Config{}, zerolog.Nop())
	_, _, closeFn := openStream(t, srv)
	defer closeFn()
}

func TestServeMessage_DispatchesAndRespondsOverSSE(t *testing.T) {
	router := &fakeRouter{
		handle: func(ctx context.Context, streamID, method string, params json.RawMessage) (any, error) {
			return map[string]string{"echo": method}, nil
		},
	}
	srv := NewServer(router, Config{}, zerolog.Nop())
	endpoint, scanner, closeFn := openStream(t, srv)
	defer closeFn()

	body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"exec","params":{}}`)
	resp, err := http.Post(endpoint, "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	env := nextDataEnvelope(t, scanner)
	var result map[string]string
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["echo"] != "exec" {
		t.Errorf("expected echoed method, got %+v", result)
	}
}

func TestServeMessage_UnknownStreamIs404(t *testing.T) {
	srv := NewServer(&fakeRouter{}, Config{}, zerolog.Nop())
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeMessage))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"?sessionId=nonexistent", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServeMessage_BackpressureReturns429(t *testing.T) {
	block := make(chan struct{})
	router := &fakeRouter{
		handle: func(ctx context.Context, streamID, method string, params json.RawMessage) (any, error) {
			<-block
			return "ok", nil
		},
	}
	srv := NewServer(router, Config{MaxQueueDepth: 1}, zerolog.Nop())
	endpoint, _, closeFn := openStream(t, srv)
	defer func() {
		close(block)
		closeFn()
	}()

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(endpoint, "application/json", strings.NewReader(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"exec"}`, i)))
		if err != nil {
			t.Fatalf("POST %d: %v", i, err)
		}
		codes = append(codes, resp.StatusCode)
		resp.Body.Close()
	}

	found429 := false
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			found429 = true
		}
	}
	if !found429 {
		t.Errorf("expected at least one 429 among %v", codes)
	}
}

func TestStream_Request_RejectsSamplingWithoutCapability(t *testing.T) {
	srv := NewServer(&fakeRouter{}, Config{}, zerolog.Nop())
	endpoint, _, closeFn := openStream(t, srv)
	defer closeFn()

	id := strings.TrimPrefix(strings.SplitN(endpoint, "sessionId=", 2)[1], "")
	st, ok := srv.Stream(id)
	if !ok {
		t.Fatal("expected stream to be registered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := st.Request(ctx, "sampling/createMessage", map[string]string{})
	if err == nil {
		t.Fatal("expected error for client without sampling capability")
	}
}
