package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// framePipe is one side of a fake LSP connection.
type framePipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newFramePipe() *framePipe {
	r, w := io.Pipe()
	return &framePipe{reader: r, writer: w}
}

// fakePeer reads frames the transport writes and lets the test inject
// frames the transport will read.
type fakePeer struct {
	t        *testing.T
	incoming *bufio.Reader // what the transport sent us
	outgoing io.Writer     // what we send the transport
}

func newTransportPair(t *testing.T) (*Transport, *fakePeer) {
	t.Helper()
	toServer := newFramePipe()
	toClient := newFramePipe()

	tr := NewTransport(toClient.reader, toServer.writer, nil, nil)
	t.Cleanup(func() { tr.Close() })

	return tr, &fakePeer{
		t:        t,
		incoming: bufio.NewReader(toServer.reader),
		outgoing: toClient.writer,
	}
}

// readFrame reads one Content-Length framed message from the transport.
func (p *fakePeer) readFrame() map[string]any {
	p.t.Helper()
	var contentLength int
	for {
		line, err := p.incoming.ReadString('\n')
		if err != nil {
			p.t.Fatalf("read header: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			contentLength, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.incoming, body); err != nil {
		p.t.Fatalf("read body: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		p.t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

// send writes one framed message to the transport.
func (p *fakePeer) send(msg any) {
	p.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		p.t.Fatalf("marshal: %v", err)
	}
	fmt.Fprintf(p.outgoing, "Content-Length: %d\r\n\r\n%s", len(data), data)
}

func TestTransportNotifyFraming(t *testing.T) {
	tr, peer := newTransportPair(t)

	frameCh := make(chan map[string]any, 1)
	go func() { frameCh <- peer.readFrame() }()

	if err := tr.Notify(context.Background(), "test/notification", map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	frame := <-frameCh
	if frame["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", frame["jsonrpc"])
	}
	if frame["method"] != "test/notification" {
		t.Errorf("method = %v, want test/notification", frame["method"])
	}
	if _, hasID := frame["id"]; hasID {
		t.Error("notification must not carry an id")
	}
}

func TestTransportCallRoundTrip(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	go func() {
		frame := peer.readFrame()
		id := frame["id"].(float64)
		peer.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  map[string]any{"answer": 42},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result struct {
		Answer int `json:"answer"`
	}
	if err := tr.Call(ctx, "test/ask", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.Answer != 42 {
		t.Errorf("answer = %d, want 42", result.Answer)
	}
}

func TestTransportCallServerError(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	go func() {
		frame := peer.readFrame()
		peer.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      frame["id"],
			"error":   map[string]any{"code": CodeInvalidParams, "message": "bad params"},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Call(ctx, "test/ask", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeInvalidParams)
	}
}

func TestTransportTimeoutSendsCancel(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	frames := make(chan map[string]any, 2)
	go func() {
		frames <- peer.readFrame() // the request
		frames <- peer.readFrame() // the $/cancelRequest
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := tr.Call(ctx, "test/slow", nil, nil)
	if err == nil {
		t.Fatal("Call() should time out")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}

	req := <-frames
	if req["method"] != "test/slow" {
		t.Fatalf("first frame method = %v", req["method"])
	}
	select {
	case cancelFrame := <-frames:
		if cancelFrame["method"] != "$/cancelRequest" {
			t.Errorf("second frame method = %v, want $/cancelRequest", cancelFrame["method"])
		}
	case <-time.After(2 * time.Second):
		t.Error("no $/cancelRequest observed after timeout")
	}
}

func TestTransportLateResponseDiscarded(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := peer.readFrame()
		_ = peer.readFrame() // swallow the cancel
		// Respond after the caller gave up.
		peer.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      frame["id"],
			"result":  "late",
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tr.Call(ctx, "test/slow", nil, nil); err == nil {
		t.Fatal("Call() should fail on timeout")
	}

	<-done
	// The late response must not wedge the transport; a fresh call
	// still works.
	go func() {
		frame := peer.readFrame()
		peer.send(map[string]any{"jsonrpc": "2.0", "id": frame["id"], "result": "ok"})
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	var out string
	if err := tr.Call(ctx2, "test/again", nil, &out); err != nil {
		t.Fatalf("follow-up Call() error = %v", err)
	}
	if out != "ok" {
		t.Errorf("result = %q, want ok", out)
	}
}

func TestTransportNotificationOrder(t *testing.T) {
	tr, peer := newTransportPair(t)

	var mu sync.Mutex
	var seen []int
	tr.OnNotification("test/seq", func(method string, params json.RawMessage) {
		var p struct {
			N int `json:"n"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		seen = append(seen, p.N)
		mu.Unlock()
	})

	tr.Start(context.Background())

	const count = 50
	for i := 0; i < count; i++ {
		peer.send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "test/seq",
			"params":  map[string]int{"n": i},
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == count {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/%d notifications delivered", n, count)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != i {
			t.Fatalf("notification %d arrived out of order (got %d)", i, n)
		}
	}
}

func TestTransportServerRequestMethodNotFound(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	peer.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      99,
		"method":  "server/unknownThing",
	})

	frame := peer.readFrame()
	errObj, ok := frame["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error: %v", frame)
	}
	if int(errObj["code"].(float64)) != CodeMethodNotFound {
		t.Errorf("code = %v, want %d", errObj["code"], CodeMethodNotFound)
	}
}

func TestTransportServerRequestHandled(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.OnRequest("workspace/configuration", func(params json.RawMessage) (any, error) {
		return []any{nil}, nil
	})
	tr.Start(context.Background())

	peer.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "workspace/configuration",
		"params":  map[string]any{"items": []any{map[string]any{"section": "x"}}},
	})

	frame := peer.readFrame()
	if frame["error"] != nil {
		t.Fatalf("unexpected error: %v", frame["error"])
	}
	if int(frame["id"].(float64)) != 7 {
		t.Errorf("id = %v, want 7", frame["id"])
	}
}

func TestTransportCloseFailsPending(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.Start(context.Background())

	go func() {
		_ = peer.readFrame()
		time.Sleep(20 * time.Millisecond)
		tr.Close()
	}()

	err := tr.Call(context.Background(), "test/never", nil, nil)
	if err != ErrShutdown {
		t.Errorf("Call() after close = %v, want ErrShutdown", err)
	}
}

func TestTransportHandlerPanicDoesNotKillReader(t *testing.T) {
	tr, peer := newTransportPair(t)
	tr.OnNotification("test/panic", func(method string, params json.RawMessage) {
		panic("handler bug")
	})

	got := make(chan struct{})
	tr.OnNotification("test/after", func(method string, params json.RawMessage) {
		close(got)
	})
	tr.Start(context.Background())

	peer.send(map[string]any{"jsonrpc": "2.0", "method": "test/panic"})
	peer.send(map[string]any{"jsonrpc": "2.0", "method": "test/after"})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("reader died after handler panic")
	}
}
