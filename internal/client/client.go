package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"censord/internal/domain"
	"censord/internal/ws"
)

// State is the connection lifecycle of the orchestrator.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultMaxRetries    = 5
	defaultRetryBackoff  = time.Second
	defaultTrimThreshold = 8 << 20
)

// Result is what callers receive for each completed job, matched back to the
// source context that requested it.
type Result struct {
	JobID    string
	SourceID string
	Image    *domain.ImageData
	Err      string
}

// SubmitRequest describes one censoring submission from the caller's side.
type SubmitRequest struct {
	// SourceID is the caller-supplied correlation id routed back with the
	// result.
	SourceID string
	// ImageRef is either an inline data URL or a remote reference.
	ImageRef string
	Prefs    Preferences
}

// Options configures an Orchestrator.
type Options struct {
	URL       string
	Ephemeral bool
	// SurfaceErrors folds server-reported per-job errors into the result
	// path. When false such errors are logged and never reach OnResult.
	SurfaceErrors bool
	OnResult      func(Result)
	OnProgress    func(jobID, sourceID, message string)
	// FetchInline converts a remote reference to an inline data URL. It is
	// replaceable per runtime environment; nil installs an HTTP fetcher.
	FetchInline        func(ctx context.Context, url string) (string, error)
	TrimThresholdBytes int
	MaxRetries         int
	RetryBackoff       time.Duration
	Dialer             *websocket.Dialer
	Logger             zerolog.Logger
}

// Orchestrator is the client counterpart of the realtime channel: it owns the
// connection state machine, the job-to-source correlation map, payload
// construction, and the degrade-and-retry policies.
type Orchestrator struct {
	opts Options

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	readyCh     chan struct{}
	readyClosed bool
	connecting  bool
	seq         int64
	acks        map[int64]chan bool
	sources     map[string]string

	writeMu sync.Mutex
	logger  zerolog.Logger
}

// New builds an orchestrator in the Connecting state. No network traffic
// happens until the first operation needs a live connection.
func New(opts Options) (*Orchestrator, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("client: url is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.TrimThresholdBytes <= 0 {
		opts.TrimThresholdBytes = defaultTrimThreshold
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.FetchInline == nil {
		opts.FetchInline = fetchInlineHTTP
	}
	return &Orchestrator{
		opts:    opts,
		state:   StateConnecting,
		readyCh: make(chan struct{}),
		acks:    make(map[int64]chan bool),
		sources: make(map[string]string),
		logger:  opts.Logger,
	}, nil
}

// State reports the current connection state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Connect establishes the connection eagerly. Operations call this lazily via
// ensureConnected, so using it is optional.
func (o *Orchestrator) Connect(ctx context.Context) error {
	return o.ensureConnected(ctx)
}

// ensureConnected blocks on the one-shot readiness signal, (re)starting the
// connection when it is not Ready.
func (o *Orchestrator) ensureConnected(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateReady {
		o.mu.Unlock()
		return nil
	}
	if o.state == StateClosed {
		// Restart from scratch; Closed is terminal only for the old cycle.
		o.state = StateConnecting
		o.resetReadyLocked()
	}
	if !o.connecting {
		o.connecting = true
		go o.connectLoop()
	}
	ready := o.readyCh
	o.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateReady {
		return domain.ErrNotConnected
	}
	return nil
}

func (o *Orchestrator) resetReadyLocked() {
	o.readyCh = make(chan struct{})
	o.readyClosed = false
}

func (o *Orchestrator) signalReadyLocked() {
	if !o.readyClosed {
		close(o.readyCh)
		o.readyClosed = true
	}
}

// connectLoop drives Connecting/Degraded toward Ready with bounded retry;
// exhausting the budget lands in Closed and wakes every waiter.
func (o *Orchestrator) connectLoop() {
	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.opts.RetryBackoff)
		}
		o.mu.Lock()
		if o.state == StateClosed && !o.connecting {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		if err := o.connectOnce(); err != nil {
			o.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("client: connect failed")
			o.setDegraded()
			continue
		}
		return
	}

	o.mu.Lock()
	o.state = StateClosed
	o.connecting = false
	o.signalReadyLocked()
	o.mu.Unlock()
	o.logger.Error().Msg("client: reconnect budget exhausted")
}

func (o *Orchestrator) setDegraded() {
	o.mu.Lock()
	if o.state != StateClosed {
		o.state = StateDegraded
	}
	o.mu.Unlock()
}

// connectOnce dials, performs the hello/ready handshake, and installs the
// connection. Push handling is registered (the read pump starts) before any
// RPC can be issued on the new connection, so no early event is missed.
func (o *Orchestrator) connectOnce() error {
	conn, _, err := o.opts.Dialer.Dial(o.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	hello := ws.ClientFrame{Type: ws.TypeHello, Ephemeral: o.opts.Ephemeral, SurfaceErrors: o.opts.SurfaceErrors}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return fmt.Errorf("hello: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ready ws.ServerFrame
	if err := conn.ReadJSON(&ready); err != nil || ready.Type != ws.TypeReady {
		conn.Close()
		return fmt.Errorf("handshake: %v", err)
	}
	conn.SetReadDeadline(time.Time{})

	o.mu.Lock()
	o.conn = conn
	o.state = StateReady
	o.connecting = false
	o.signalReadyLocked()
	o.mu.Unlock()

	o.logger.Info().Str("session_id", ready.SessionID).Msg("client: connected")
	go o.readPump(conn)
	return nil
}

func (o *Orchestrator) readPump(conn *websocket.Conn) {
	for {
		var frame ws.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			o.handleDisconnect(conn, err)
			return
		}
		o.handleFrame(frame)
	}
}

func (o *Orchestrator) handleFrame(frame ws.ServerFrame) {
	switch frame.Type {
	case ws.TypeAck:
		o.mu.Lock()
		ch := o.acks[frame.Seq]
		delete(o.acks, frame.Seq)
		o.mu.Unlock()
		if ch != nil {
			accepted := frame.Accepted != nil && *frame.Accepted
			ch <- accepted
		}
	case ws.TypeResult:
		o.mu.Lock()
		sourceID, known := o.sources[frame.ID]
		delete(o.sources, frame.ID)
		o.mu.Unlock()
		if !known {
			o.logger.Debug().Str("job_id", frame.ID).Msg("client: result for unknown job")
			return
		}
		if o.opts.OnResult != nil {
			o.opts.OnResult(Result{JobID: frame.ID, SourceID: sourceID, Image: frame.ResultImage, Err: frame.Error})
		}
	case ws.TypeProgress:
		o.mu.Lock()
		sourceID := o.sources[frame.ID]
		o.mu.Unlock()
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(frame.ID, sourceID, frame.Message)
		}
	case ws.TypeError:
		// Errors on the dedicated channel are absorbed here; callers that
		// wanted them folded into results opted in via SurfaceErrors.
		o.logger.Warn().Str("job_id", frame.ID).Str("error", frame.Message).Msg("client: server reported job error")
		o.mu.Lock()
		delete(o.sources, frame.ID)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleDisconnect(conn *websocket.Conn, cause error) {
	o.mu.Lock()
	if o.conn != conn {
		o.mu.Unlock()
		return // stale pump of an already-replaced connection
	}
	o.conn = nil
	// Outstanding acks fail as transport errors.
	for seq, ch := range o.acks {
		close(ch)
		delete(o.acks, seq)
	}
	if o.state == StateClosed {
		o.mu.Unlock()
		return
	}
	if o.opts.Ephemeral {
		// One-shot sessions are torn down by the server after delivery;
		// reconnecting would defeat their purpose.
		o.state = StateClosed
		o.signalReadyLocked()
		o.mu.Unlock()
		return
	}
	o.state = StateDegraded
	o.resetReadyLocked()
	o.connecting = true
	o.mu.Unlock()

	o.logger.Warn().Err(cause).Msg("client: connection lost, reconnecting")
	go o.connectLoop()
}

// Close terminates the orchestrator. Pending operations fail with transport
// errors; no reconnection is attempted afterwards unless an operation
// restarts it.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.state = StateClosed
	o.connecting = false
	conn := o.conn
	o.conn = nil
	o.signalReadyLocked()
	o.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (o *Orchestrator) writeFrame(frame ws.ClientFrame) error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(frame)
}

// Submit builds a job payload from the caller's preferences and image
// reference, sends it, and waits for the server's acceptance ack. The ack
// signals acceptance for processing only; the result arrives later through
// OnResult.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (jobID string, accepted bool, err error) {
	options, err := BuildOptions(req.Prefs)
	if err != nil {
		return "", false, err
	}
	if err := o.ensureConnected(ctx); err != nil {
		return "", false, err
	}

	job := &domain.Job{ID: uuid.NewString(), Options: options}
	o.acquireImage(ctx, req.ImageRef, job)
	o.applySizeGuard(job)

	ackCh := make(chan bool, 1)
	o.mu.Lock()
	o.seq++
	seq := o.seq
	o.acks[seq] = ackCh
	o.sources[job.ID] = req.SourceID
	o.mu.Unlock()

	cleanup := func() {
		o.mu.Lock()
		delete(o.acks, seq)
		delete(o.sources, job.ID)
		o.mu.Unlock()
	}

	if err := o.writeFrame(ws.ClientFrame{Type: ws.TypeSubmit, Seq: seq, Job: job}); err != nil {
		cleanup()
		return "", false, fmt.Errorf("client: submit: %w", err)
	}

	select {
	case ok, open := <-ackCh:
		if !open {
			cleanup()
			return "", false, fmt.Errorf("client: submit: %w", domain.ErrNotConnected)
		}
		if !ok {
			o.mu.Lock()
			delete(o.sources, job.ID)
			o.mu.Unlock()
		}
		return job.ID, ok, nil
	case <-ctx.Done():
		cleanup()
		return "", false, ctx.Err()
	}
}

// acquireImage fills the job's image fields. Inline references pass through
// untouched; remote references are fetched and converted best-effort, with
// the remote reference always retained so the server can fetch on our behalf
// when conversion fails.
func (o *Orchestrator) acquireImage(ctx context.Context, ref string, job *domain.Job) {
	if strings.HasPrefix(ref, "data:") {
		job.ImageDataURL = ref
		return
	}
	job.ImageURL = ref
	inline, err := o.opts.FetchInline(ctx, ref)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("client: inline conversion failed, deferring fetch to server")
		return
	}
	job.ImageDataURL = inline
}

// applySizeGuard drops the inline image from oversized payloads when a remote
// reference exists; size alone never fails a submission.
func (o *Orchestrator) applySizeGuard(job *domain.Job) {
	if job.ImageDataURL == "" || job.ImageURL == "" {
		return
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return
	}
	if len(encoded) > o.opts.TrimThresholdBytes {
		o.logger.Info().Str("job_id", job.ID).Int("bytes", len(encoded)).Msg("client: payload over threshold, dropping inline image")
		job.ImageDataURL = ""
	}
}

// Cancel batches an explicit id set with every job currently correlated to
// sourceID, coalesces duplicates, and issues a fire-and-forget cancel RPC.
// All failures are suppressed; cancellation never raises to the caller.
func (o *Orchestrator) Cancel(ctx context.Context, ids []string, sourceID string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	o.mu.Lock()
	if sourceID != "" {
		for jobID, src := range o.sources {
			if src == sourceID {
				set[jobID] = struct{}{}
			}
		}
	}
	for id := range set {
		delete(o.sources, id)
	}
	o.mu.Unlock()

	if len(set) == 0 {
		return
	}
	batch := make([]string, 0, len(set))
	for id := range set {
		batch = append(batch, id)
	}
	sort.Strings(batch)

	if err := o.ensureConnected(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("client: cancel skipped, no connection")
		return
	}
	if err := o.writeFrame(ws.ClientFrame{Type: ws.TypeCancel, IDs: batch}); err != nil {
		o.logger.Warn().Err(err).Msg("client: cancel send failed")
	}
}

// Probe opens a disposable connection purely to test reachability, with a
// small bounded reconnect budget, and always tears it down.
func Probe(ctx context.Context, url string, logger zerolog.Logger) (available bool, diagnostic string) {
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return false, ctx.Err().Error()
			}
		}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		err = func() error {
			defer conn.Close()
			if err := conn.WriteJSON(ws.ClientFrame{Type: ws.TypeHello, Ephemeral: true}); err != nil {
				return err
			}
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var ready ws.ServerFrame
			if err := conn.ReadJSON(&ready); err != nil {
				return err
			}
			if ready.Type != ws.TypeReady {
				return fmt.Errorf("unexpected handshake reply %q", ready.Type)
			}
			return nil
		}()
		if err == nil {
			return true, ""
		}
		lastErr = err
	}
	logger.Debug().Err(lastErr).Msg("client: probe failed")
	if lastErr == nil {
		return false, "unreachable"
	}
	return false, lastErr.Error()
}

// fetchInlineHTTP is the default remote-to-inline conversion: fetch over
// HTTP and wrap as a base64 data URL.
func fetchInlineHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
