package websocket

import (
	"time"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeReportStatus is sent when a report changes lifecycle state
	EventTypeReportStatus EventType = "report_status"
	// EventTypeReportProgress is sent while a report is being computed
	EventTypeReportProgress EventType = "report_progress"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ReportID  string      `json:"report_id,omitempty"`
	Data      interface{} `json:"data"`
}

// StatusEvent reports a lifecycle change of a report
type StatusEvent struct {
	Status    string `json:"status"`
	Anomalies int    `json:"anomalies,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProgressEvent reports one step of a running report
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Lines   int    `json:"lines,omitempty"`
	Sources int    `json:"sources,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	ReportID string `json:"report_id,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	ReportID    string // empty follows every report
	Send        chan Event
	ConnectedAt time.Time
	LastPing    time.Time
	IP          string
	UserAgent   string

	// events restricts delivery to the listed types when non-empty
	events []EventType
	conn   connection
}

// connection is the part of *websocket.Conn the hub uses
type connection interface {
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}
