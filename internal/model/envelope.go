package model

type MessageType string

const (
	MessageTypeRecord     MessageType = "metric_record"
	MessageTypeAlerts     MessageType = "alert_events"
	MessageTypeResolution MessageType = "alert_resolution"
)

// Envelope is transport-agnostic framing for stream and live payloads.
type Envelope struct {
	Type          MessageType `json:"type"`
	Hostname      string      `json:"hostname"`
	TimestampUnix float64     `json:"timestamp_unix"`
	Payload       any         `json:"payload"`
}
