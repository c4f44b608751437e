package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T, config *HubConfig, reportID string, history []Event) (*Hub, string) {
	t.Helper()
	hub := NewHub(config, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, reportID, history)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForClients(t *testing.T, hub *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.GetStats().ActiveConnections != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return event
}

func TestReportFollower(t *testing.T) {
	config := &HubConfig{BroadcastProgress: true, BroadcastStatus: true, BroadcastConnections: true}
	history := []Event{{Type: EventTypeReportStatus, ReportID: "r1", Data: StatusEvent{Status: "running"}}}
	hub, url := startHub(t, config, "r1", history)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	if event := readEvent(t, conn); event.Type != EventTypeReportStatus || event.ReportID != "r1" {
		t.Errorf("expected history first, got %+v", event)
	}

	hub.BroadcastEvent(Event{Type: EventTypeReportProgress, ReportID: "r2", Data: ProgressEvent{Stage: "train"}})
	hub.BroadcastEvent(Event{Type: EventTypeReportProgress, ReportID: "r1", Data: ProgressEvent{Stage: "score"}})

	event := readEvent(t, conn)
	if event.ReportID != "r1" || event.Type != EventTypeReportProgress {
		t.Errorf("expected progress of r1 only, got %+v", event)
	}
	data, _ := event.Data.(map[string]interface{})
	if data["stage"] != "score" {
		t.Errorf("unexpected progress payload %+v", event.Data)
	}
}

func TestDisabledEventTypes(t *testing.T) {
	hub, url := startHub(t, &HubConfig{BroadcastStatus: true}, "", nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.BroadcastEvent(Event{Type: EventTypeReportProgress, ReportID: "r1"})
	hub.BroadcastEvent(Event{Type: EventTypeReportStatus, ReportID: "r1", Data: StatusEvent{Status: "completed"}})

	if event := readEvent(t, conn); event.Type != EventTypeReportStatus {
		t.Errorf("disabled progress events must not be delivered, got %+v", event)
	}
}

func TestBasicAuth(t *testing.T) {
	_, url := startHub(t, &HubConfig{Username: "admin", Password: "secret"}, "", nil)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected unauthenticated dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}

	header := http.Header{}
	req := &http.Request{Header: header}
	req.SetBasicAuth("admin", "secret")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("authenticated dial failed: %v", err)
	}
	conn.Close()
}

func TestClientWants(t *testing.T) {
	follower := &Client{ReportID: "r1"}
	all := &Client{events: []EventType{EventTypeReportStatus}}

	tests := []struct {
		name   string
		client *Client
		event  Event
		want   bool
	}{
		{"same report", follower, Event{Type: EventTypeReportProgress, ReportID: "r1"}, true},
		{"other report", follower, Event{Type: EventTypeReportProgress, ReportID: "r2"}, false},
		{"connection to follower", follower, Event{Type: EventTypeConnection}, false},
		{"subscribed type", all, Event{Type: EventTypeReportStatus, ReportID: "r9"}, true},
		{"unsubscribed type", all, Event{Type: EventTypeReportProgress, ReportID: "r9"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.client.wants(tt.event); got != tt.want {
				t.Errorf("wants() = %v, want %v", got, tt.want)
			}
		})
	}
}
