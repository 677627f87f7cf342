package session

import (
	"time"

	"medical-dictation-service/internal/stt"
)

// Client to server message types.
const (
	MsgConfig     = "config"
	MsgAudio      = "audio"
	MsgEndSession = "end_session"
)

// Server to client message types.
const (
	MsgHeartbeat   = "heartbeat"
	MsgPartial     = "partial_transcription"
	MsgFinal       = "transcription"
	MsgSessionEnd  = "session_ended"
	MsgError       = "error"
	MsgSessionInfo = "session_info"
)

// ClientMessage is the envelope for every inbound message.
type ClientMessage struct {
	Type   string        `json:"type"`
	Config *ClientConfig `json:"config,omitempty"`
	Data   string        `json:"data,omitempty"`
}

// ClientConfig carries per-session settings sent in a config message.
// Zero values leave the current setting unchanged.
type ClientConfig struct {
	Language             string  `json:"language,omitempty"`
	DomainContext        bool    `json:"domain_context,omitempty"`
	QualityThreshold     float64 `json:"quality_threshold,omitempty"`
	ChunkDurationSeconds float64 `json:"chunk_duration_seconds,omitempty"`
	SampleRate           int     `json:"sample_rate,omitempty"`
	Channels             int     `json:"channels,omitempty"`
}

// ServerMessage is the envelope for every outbound message.
type ServerMessage struct {
	Type                string             `json:"type"`
	Timestamp           string             `json:"timestamp,omitempty"`
	Data                *TranscriptionData `json:"data,omitempty"`
	SessionID           string             `json:"session_id,omitempty"`
	Message             string             `json:"message,omitempty"`
	TotalTranscriptions int                `json:"total_transcriptions,omitempty"`
	SessionDuration     float64            `json:"session_duration,omitempty"`
}

// TranscriptionData is the payload of partial and final transcription events.
type TranscriptionData struct {
	Text           string        `json:"text"`
	Language       string        `json:"language,omitempty"`
	IsPartial      bool          `json:"is_partial,omitempty"`
	Confidence     float64       `json:"confidence,omitempty"`
	ProcessingTime float64       `json:"processing_time,omitempty"`
	QualityScore   float64       `json:"quality_score,omitempty"`
	Backend        string        `json:"backend,omitempty"`
	Segments       []stt.Segment `json:"segments,omitempty"`
}

func heartbeatMessage() ServerMessage {
	return ServerMessage{Type: MsgHeartbeat, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Message: msg}
}
