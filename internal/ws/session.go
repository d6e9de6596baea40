package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"censord/internal/domain"
)

// Session is one client's persistent connection plus its per-connection
// record: identity, delivery policy flags, and the set of job ids it still
// owes a result for. It implements notify.Sink so the notification stage can
// push outcomes without knowing anything about websockets.
type Session struct {
	id            string
	conn          *websocket.Conn
	send          chan ServerFrame
	ephemeral     bool
	surfaceErrors bool
	linger        time.Duration

	mu     sync.Mutex
	jobs   map[string]struct{}
	closed bool

	heartbeat time.Duration
	logger    zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, hello ClientFrame, heartbeat, linger time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		id:            id,
		conn:          conn,
		send:          make(chan ServerFrame, 32),
		ephemeral:     hello.Ephemeral,
		surfaceErrors: hello.SurfaceErrors,
		linger:        linger,
		jobs:          make(map[string]struct{}),
		heartbeat:     heartbeat,
		logger:        logger.With().Str("session_id", id).Logger(),
		done:          make(chan struct{}),
	}
}

// ID returns the session identity assigned at handshake.
func (s *Session) ID() string { return s.id }

// Deliver pushes the terminal outcome of one job. When the session's policy
// keeps errors off the result path, error events go to the dedicated error
// channel instead. An ephemeral session is torn down shortly after its first
// delivery.
func (s *Session) Deliver(ev domain.CompletionEvent) {
	s.untrack(ev.ID)

	frame := ServerFrame{Type: TypeResult, ID: ev.ID, ResultImage: ev.ResultImage, Error: ev.Err}
	if ev.Failed() && !s.surfaceErrors {
		frame = ServerFrame{Type: TypeError, ID: ev.ID, Message: ev.Err}
	}
	s.push(frame)

	if s.ephemeral {
		time.AfterFunc(s.linger, s.Close)
	}
}

// Progress forwards a best-effort notice; dropped when the session is slow or
// gone, never retried.
func (s *Session) Progress(id, message string) {
	s.push(ServerFrame{Type: TypeProgress, ID: id, Message: message})
}

func (s *Session) track(jobID string) {
	s.mu.Lock()
	s.jobs[jobID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrack(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// owned filters ids down to jobs submitted on this session; everything else
// is silently ignored.
func (s *Session) owned(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.jobs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// outstanding returns and clears the job ids the session still owed results
// for; used to release router bindings when the connection goes away.
func (s *Session) outstanding() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.jobs = make(map[string]struct{})
	return ids
}

// push enqueues a frame for the write pump. A full buffer or a closed session
// drops the frame; delivery guarantees live a layer up.
func (s *Session) push(frame ServerFrame) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.send <- frame:
	default:
		s.logger.Warn().Str("frame", frame.Type).Msg("ws: send buffer full, dropping frame")
	}
}

// Close tears the connection down. Safe to call repeatedly and concurrently.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// writePump serializes all outbound traffic for the connection and keeps the
// heartbeat alive. It owns the conn's write side exclusively.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug().Err(err).Msg("ws: write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
