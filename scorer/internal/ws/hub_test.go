package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echoguard/echoguard/pkg/types"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/results"
	"github.com/echoguard/echoguard/scorer/internal/score"
	wsHub "github.com/echoguard/echoguard/scorer/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(t *testing.T, timestamps ...string) *results.Memory {
	t.Helper()
	st := results.NewMemory(0)
	for _, ts := range timestamps {
		r := results.NewRecord("rig", ts, ts+".npy", 0.001, 0.002, types.StatusHealthy, 5, time.Now())
		if err := st.Put(context.Background(), r); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return st
}

func startHub(t *testing.T, lister results.Lister, interval time.Duration) (string, *wsHub.Hub, func()) {
	t.Helper()

	hub := wsHub.New(lister, interval, 10)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// readEvent reads messages until one with the given event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		if m := readMessage(t, conn); m["event"] == event {
			return m
		}
	}
	t.Fatalf("no %q message received", event)
	return nil
}

func resultsOf(t *testing.T, m map[string]any) []any {
	t.Helper()
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	rs, ok := data["results"].([]any)
	if !ok {
		t.Fatal("results: missing or wrong type")
	}
	return rs
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, "2024-01-01-00-00-00", "2024-01-02-00-00-00"), time.Hour)

	m := readMessage(t, dial(t, wsURL))
	if m["event"] != "results" {
		t.Errorf("event: got %v, want results", m["event"])
	}
	rs := resultsOf(t, m)
	if len(rs) != 2 {
		t.Fatalf("results: got %d, want 2", len(rs))
	}
	if first := rs[0].(map[string]any); first["timestamp"] != "2024-01-02-00-00-00" {
		t.Errorf("first result: got %v, want newest first", first["timestamp"])
	}
}

func TestHub_NilLister_EmptyResults(t *testing.T) {
	wsURL, _, _ := startHub(t, nil, time.Hour)
	if rs := resultsOf(t, readMessage(t, dial(t, wsURL))); len(rs) != 0 {
		t.Errorf("results: got %d, want 0", len(rs))
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	st := newStore(t)
	wsURL, _, _ := startHub(t, st, testInterval)

	conn := dial(t, wsURL)
	readMessage(t, conn) // immediate snapshot, empty store

	r := results.NewRecord("rig", "2024-03-01-10-00-00", "x.npy", 0.5, 0.002, types.StatusAnomaly, 3, time.Now())
	st.Put(context.Background(), r) //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rs := resultsOf(t, readEvent(t, conn, "results")); len(rs) == 1 {
			if got := rs[0].(map[string]any)["status"]; got != "ANOMALY_DETECTED" {
				t.Errorf("status: got %v, want ANOMALY_DETECTED", got)
			}
			return
		}
	}
	t.Fatal("tick broadcast never carried the new result")
}

func TestHub_Observe_PushesInvocation(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t), time.Hour)
	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	res := &pipeline.Result{
		InvocationID: "inv-1",
		Event:        events.Event{Bucket: "b", Key: "ANOMALY_x.npy"},
		Verdict:      score.Verdict{Aggregate: 1.5, Status: types.StatusAnomaly},
		Threshold:    0.002,
		Windows:      5,
	}
	if err := hub.Observe(context.Background(), res, nil); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	m := readEvent(t, conn, "invocation")
	data := m["data"].(map[string]any)
	if data["invocation_id"] != "inv-1" {
		t.Errorf("invocation_id: got %v", data["invocation_id"])
	}
	if data["status_code"] != float64(200) {
		t.Errorf("status_code: got %v, want 200", data["status_code"])
	}
	body := data["body"].(map[string]any)
	if body["status"] != "ANOMALY_DETECTED" || body["file"] != "ANOMALY_x.npy" {
		t.Errorf("body: got %v", body)
	}
}

func TestHub_Observe_PushesFailure(t *testing.T) {
	wsURL, hub, _ := startHub(t, nil, time.Hour)
	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	perr := &pipeline.Error{Kind: pipeline.KindFetch, Stage: pipeline.StateFetching, Err: errors.New("Access Denied")}
	hub.Observe(context.Background(), &pipeline.Result{InvocationID: "inv-2"}, perr) //nolint:errcheck

	data := readEvent(t, conn, "invocation")["data"].(map[string]any)
	if data["status_code"] != float64(500) {
		t.Errorf("status_code: got %v, want 500", data["status_code"])
	}
	body := data["body"].(map[string]any)
	if body["error"] != "FetchError" || body["message"] != "Fetch Error: Access Denied" {
		t.Errorf("body: got %v", body)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, nil, time.Hour)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, nil, time.Hour)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	srv := httptest.NewServer(wsHub.New(nil, testInterval, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
