package ws

import "censord/internal/domain"

// Frame types, client to server.
const (
	TypeHello  = "hello"
	TypeSubmit = "submit"
	TypeCancel = "cancel"
)

// Frame types, server to client.
const (
	TypeReady    = "ready"
	TypeAck      = "ack"
	TypeResult   = "result"
	TypeProgress = "progress"
	TypeError    = "error"
)

// ClientFrame is every message a client may send. Type selects which fields
// are meaningful.
type ClientFrame struct {
	Type string `json:"type"`
	// Seq correlates a submit with its ack.
	Seq int64 `json:"seq,omitempty"`
	// Hello fields.
	Ephemeral     bool `json:"ephemeral,omitempty"`
	SurfaceErrors bool `json:"surfaceErrors,omitempty"`
	// Submit payload.
	Job *domain.Job `json:"job,omitempty"`
	// Cancel payload.
	IDs []string `json:"ids,omitempty"`
}

// ServerFrame is every message the server may push or answer with.
type ServerFrame struct {
	Type      string `json:"type"`
	Seq       int64  `json:"seq,omitempty"`
	Accepted  *bool  `json:"accepted,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	ID          string            `json:"id,omitempty"`
	ResultImage *domain.ImageData `json:"resultImage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Message     string            `json:"message,omitempty"`
}
