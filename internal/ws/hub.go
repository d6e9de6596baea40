package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"censord/internal/notify"
	"censord/internal/queue"
)

const (
	defaultEphemeralLinger = 250 * time.Millisecond
	defaultHeartbeat       = 10 * time.Second
)

// Options configures the realtime channel endpoint.
type Options struct {
	Queue           *queue.Queue
	Router          *notify.Router
	Heartbeat       time.Duration
	IdleTimeout     time.Duration
	MaxMessageBytes int64
	EphemeralLinger time.Duration
	Logger          zerolog.Logger
}

// Hub terminates realtime client connections: it performs the hello/ready
// handshake, dispatches submit and cancel RPCs into the queue, and lets the
// notification stage push results back through the owning session.
type Hub struct {
	queue    *queue.Queue
	router   *notify.Router
	upgrader websocket.Upgrader
	opts     Options
	logger   zerolog.Logger
}

// NewHub builds the endpoint.
func NewHub(opts Options) *Hub {
	if opts.EphemeralLinger <= 0 {
		opts.EphemeralLinger = defaultEphemeralLinger
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &Hub{
		queue:  opts.Queue,
		router: opts.Router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts:   opts,
		logger: opts.Logger,
	}
}

// ServeHTTP upgrades the connection and runs the session until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("ws: upgrade failed")
		return
	}

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	h.refreshReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		h.refreshReadDeadline(conn)
		return nil
	})

	// The first frame must be a hello: delivery policy is fixed before any
	// submission can race an early push.
	var hello ClientFrame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != TypeHello {
		h.logger.Debug().Msg("ws: handshake violation, closing")
		_ = conn.Close()
		return
	}

	sess := newSession(uuid.NewString(), conn, hello, h.opts.Heartbeat, h.opts.EphemeralLinger, h.logger)
	go sess.writePump()
	sess.push(ServerFrame{Type: TypeReady, SessionID: sess.ID()})
	h.logger.Info().Str("session_id", sess.ID()).Bool("ephemeral", hello.Ephemeral).Msg("ws: session ready")

	h.readLoop(sess)

	// Router bindings for jobs this session still owed are released; any
	// late completion is then dropped and logged by the notification stage.
	if ids := sess.outstanding(); len(ids) > 0 {
		h.router.Unbind(ids...)
	}
	sess.Close()
	h.logger.Info().Str("session_id", sess.ID()).Msg("ws: session closed")
}

func (h *Hub) refreshReadDeadline(conn *websocket.Conn) {
	if h.opts.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
	}
}

func (h *Hub) readLoop(sess *Session) {
	for {
		var frame ClientFrame
		if err := sess.conn.ReadJSON(&frame); err != nil {
			return
		}
		h.refreshReadDeadline(sess.conn)

		switch frame.Type {
		case TypeSubmit:
			h.handleSubmit(sess, frame)
		case TypeCancel:
			h.handleCancel(sess, frame.IDs)
		default:
			h.logger.Debug().Str("frame", frame.Type).Msg("ws: unknown frame ignored")
		}
	}
}

// handleSubmit binds the result route before enqueueing so a fast worker can
// never complete a job the router does not know about. The bind is
// conditional: a duplicate id is rejected without installing anything, so the
// live submission's route is never disturbed. The ack only signals acceptance
// for processing, not completion.
func (h *Hub) handleSubmit(sess *Session, frame ClientFrame) {
	accepted := false
	if frame.Job != nil && frame.Job.ID != "" {
		frame.Job.SubmittedAt = time.Now()
		if !h.router.BindIfAbsent(frame.Job.ID, sess) {
			h.logger.Debug().Str("job_id", frame.Job.ID).Msg("ws: duplicate submission rejected")
			sess.push(ServerFrame{Type: TypeAck, Seq: frame.Seq, Accepted: &accepted})
			return
		}
		sess.track(frame.Job.ID)

		if err := h.queue.Enqueue(frame.Job); err != nil {
			// Safe: BindIfAbsent succeeded, so this binding is ours.
			h.router.Unbind(frame.Job.ID)
			sess.untrack(frame.Job.ID)
			h.logger.Debug().Err(err).Str("job_id", frame.Job.ID).Msg("ws: submission rejected")
		} else {
			accepted = true
		}
	}
	sess.push(ServerFrame{Type: TypeAck, Seq: frame.Seq, Accepted: &accepted})
}

// handleCancel is fire-and-forget: still-queued ids are removed outright,
// already-claimed ones are marked so their late results get suppressed.
// Only jobs submitted on this session are touched, so one connection cannot
// cancel or suppress another's work. Nothing here ever raises back to the
// client.
func (h *Hub) handleCancel(sess *Session, ids []string) {
	ids = sess.owned(ids)
	if len(ids) == 0 {
		return
	}
	removed := h.queue.Cancel(ids)
	removedSet := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		removedSet[id] = struct{}{}
		sess.untrack(id)
	}
	h.router.Unbind(removed...)

	for _, id := range ids {
		if _, ok := removedSet[id]; !ok {
			h.router.MarkCancelled(id)
		}
	}
}
