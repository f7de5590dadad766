package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/cortex/schema"
)

const testToken = "secret-token"

type fakeInvoker struct{}

func (fakeInvoker) Invoke(_ context.Context, name string, params json.RawMessage) (any, error) {
	switch name {
	case "echo":
		var v any
		if len(params) > 0 {
			if err := json.Unmarshal(params, &v); err != nil {
				return nil, schema.BadArgument("params", err.Error())
			}
		}
		return v, nil
	default:
		return nil, schema.NotFound("command", name)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(8, nil)
	srv := NewServer(Config{Token: testToken, KeepaliveInterval: time.Second}, fakeInvoker{}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub
}

func post(t *testing.T, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var buf strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
	}
	return resp, []byte(buf.String())
}

func TestInvokeRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := post(t, ts.URL+"/ipc/invoke/echo", "", `{"a":1}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var wire schema.WireError
	if err := json.Unmarshal(body, &wire); err != nil || wire.Kind != schema.KindAuth {
		t.Fatalf("unexpected body %s", body)
	}
	resp, _ = post(t, ts.URL+"/ipc/invoke/echo", "wrong", `{}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}
	resp, _ = post(t, ts.URL+"/ipc/invoke/echo?token="+testToken, "", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected query token to be accepted, got %d", resp.StatusCode)
	}
}

func TestInvokeResultAndErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := post(t, ts.URL+"/ipc/invoke/echo", testToken, `{"a":1}`)
	if resp.StatusCode != http.StatusOK || string(body) != `{"a":1}` {
		t.Fatalf("unexpected echo %d %s", resp.StatusCode, body)
	}
	resp, body = post(t, ts.URL+"/ipc/invoke/nope", testToken, ``)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var wire schema.WireError
	if err := json.Unmarshal(body, &wire); err != nil || wire.Kind != schema.KindNotFound {
		t.Fatalf("unexpected error body %s", body)
	}
	resp, _ = post(t, ts.URL+"/ipc/invoke/echo", testToken, `{broken`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEventsReplayAfterLastEventID(t *testing.T) {
	ts, hub := newTestServer(t)
	hub.Publish("terminal:output", map[string]string{"data": "one"})
	hub.Publish("fs:changed", map[string]string{"path": "/x"})
	hub.Publish("terminal:output", map[string]string{"data": "three"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/ipc/events?topics=terminal:*", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		hub.Publish("terminal:output", map[string]string{"data": "live"})
	}()

	var ids []string
	var events []schema.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "data: "):
			var ev schema.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			events = append(events, ev)
		}
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if ids[0] != "3" || ids[1] != "4" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if events[0].Topic != "terminal:output" || events[1].Seq != 4 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestWebsocketInvokeAndEvents(t *testing.T) {
	ts, hub := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ipc/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized dial, got %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]any{"id": 7, "command": "echo", "params": map[string]string{"x": "y"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply struct {
		ID     int               `json:"id"`
		OK     bool              `json:"ok"`
		Result map[string]string `json:"result"`
		Error  *schema.WireError `json:"error"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.ID != 7 || !reply.OK || reply.Result["x"] != "y" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if err := conn.WriteJSON(map[string]any{"id": "q", "command": "missing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var failed struct {
		ID    string            `json:"id"`
		OK    bool              `json:"ok"`
		Error *schema.WireError `json:"error"`
	}
	if err := conn.ReadJSON(&failed); err != nil {
		t.Fatalf("read failure: %v", err)
	}
	if failed.ID != "q" || failed.OK || failed.Error == nil || failed.Error.Kind != schema.KindNotFound {
		t.Fatalf("unexpected failure %+v", failed)
	}

	hub.Publish("deep-link", map[string]string{"kind": "open_file"})
	var event schema.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Topic != "deep-link" || event.Seq != 1 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := NewHub(3, nil)
	for i := 0; i < 5; i++ {
		hub.Publish("t", i)
	}
	replay := hub.Replay(1, nil)
	if len(replay) != 3 || replay[0].Seq != 3 || replay[2].Seq != 5 {
		t.Fatalf("unexpected replay %+v", replay)
	}
	if got := hub.Replay(0, nil); got != nil {
		t.Fatalf("zero last id must not replay, got %d events", len(got))
	}
	if got := hub.Replay(2, []string{"other"}); len(got) != 0 {
		t.Fatalf("topic filter ignored: %+v", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[schema.ErrorKind]int{
		schema.KindNotFound:    http.StatusNotFound,
		schema.KindBadArgument: http.StatusBadRequest,
		schema.KindUnsupported: http.StatusNotImplemented,
		schema.KindTimeout:     http.StatusGatewayTimeout,
		schema.KindRemote:      http.StatusBadGateway,
		schema.KindIO:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := StatusFor(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestInstanceFileAndClient(t *testing.T) {
	ts, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "state", InstanceFile)

	if _, err := Connect(context.Background(), path); !errors.Is(err, ErrNoInstance) {
		t.Fatalf("expected no instance, got %v", err)
	}

	inst := Instance{Addr: strings.TrimPrefix(ts.URL, "http://"), Token: testToken, PID: os.Getpid(), StartedAt: time.Now()}
	if err := WriteInstance(path, inst); err != nil {
		t.Fatalf("write instance: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	client, err := Connect(context.Background(), path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var out map[string]int
	if err := client.Invoke(context.Background(), "echo", map[string]int{"n": 3}, &out); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["n"] != 3 {
		t.Fatalf("unexpected result %+v", out)
	}
	err = client.Invoke(context.Background(), "missing", nil, nil)
	if !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := RemoveInstance(path, os.Getpid()+1); err != nil {
		t.Fatalf("remove foreign: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign remove deleted the file: %v", err)
	}
	if err := RemoveInstance(path, os.Getpid()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("instance file still present: %v", err)
	}
}

func TestListenRejectsNonLoopback(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:0", "192.0.2.1:0", "nonsense"} {
		if _, err := Listen(addr); schema.KindOf(err) != schema.KindBadArgument {
			t.Fatalf("%s: expected bad argument, got %v", addr, err)
		}
	}
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen loopback: %v", err)
	}
	_ = ln.Close()
}

func TestHubUnsubscribeDuringPublish(t *testing.T) {
	hub := NewHub(16, nil)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish("terminal:output", "x")
				}
			}
		})
	}
	for i := 0; i < 20000; i++ {
		_, _, unsub := hub.Subscribe(0, []string{"terminal:*"})
		unsub()
	}
	close(stop)
	wg.Wait()
}

type orderedInvoker struct {
	mu   sync.Mutex
	seen []int
}

func (o *orderedInvoker) Invoke(_ context.Context, name string, params json.RawMessage) (any, error) {
	var p struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, schema.BadArgument("params", err.Error())
	}
	o.mu.Lock()
	o.seen = append(o.seen, p.N)
	o.mu.Unlock()
	return nil, nil
}

func TestWebsocketDispatchKeepsOrder(t *testing.T) {
	inv := &orderedInvoker{}
	srv := NewServer(Config{Token: testToken, KeepaliveInterval: time.Second}, inv, NewHub(8, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ipc/ws", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	const total = 2000
	writeErr := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			msg := map[string]any{"id": i, "command": "terminal_write", "params": map[string]int{"n": i}}
			if err := conn.WriteJSON(msg); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- nil
	}()
	for i := 0; i < total; i++ {
		var reply struct {
			ID int  `json:"id"`
			OK bool `json:"ok"`
		}
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read reply %d: %v", i, err)
		}
		if reply.ID != i || !reply.OK {
			t.Fatalf("reply %d out of order: %+v", i, reply)
		}
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write: %v", err)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.seen) != total {
		t.Fatalf("expected %d invocations, got %d", total, len(inv.seen))
	}
	for i, n := range inv.seen {
		if n != i {
			t.Fatalf("invocation %d carried %d", i, n)
		}
	}
}
