package klw

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

// Default ports, timeouts and intervals for a gateway session.
const (
	// DefaultPlainPort is the gateway port for password login.
	DefaultPlainPort = 4002

	// DefaultChallengePort is the gateway port for challenge login.
	DefaultChallengePort = 4196

	// defaultConnectTimeout bounds one dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectInterval is the first delay before re-dialling.
	defaultReconnectInterval = 15 * time.Second

	// maxReconnectInterval caps the exponential backoff.
	maxReconnectInterval = 2 * time.Minute

	// defaultHeartbeatInterval is the keep-alive period H.
	defaultHeartbeatInterval = 15 * time.Second

	// silenceFactor times H without inbound traffic ends a session.
	silenceFactor = 3

	// defaultLoginTimeout bounds the wait for the login verdict.
	defaultLoginTimeout = 2 * time.Second

	// writeTimeout bounds one socket write.
	writeTimeout = 5 * time.Second

	// readBufferSize is the size of one socket read.
	readBufferSize = 1024

	// outboundQueueSize bounds instructions waiting for the sender.
	outboundQueueSize = 512

	// engineListenerKey registers the classification engine on buffers.
	engineListenerKey = "engine"
)

var heartbeatInstruction = NewInstruction(243, 255, 255, 255, 255, 255, 255)

// queryAll asks the gateway to report every device, scene, sensor and
// security state after login.
var queryAll = []Instruction{
	NewInstruction(243, 166, 255, 0, 0, 0, 0),
	NewInstruction(243, 168, 0, 0, 0, 0, 0),
	NewInstruction(243, 180, 0, 0, 0, 0, 0),
	NewInstruction(243, 110, 0, 0, 0, 0, 0),
}

// State is the connection state of a client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthPending
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthPending:
		return "auth-pending"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// PacingInterval returns the delay after each sent instruction for a
// gateway system level. Larger installations need more headroom.
func PacingInterval(systemLevel int) time.Duration {
	switch systemLevel {
	case 0:
		return 50 * time.Millisecond
	case 1:
		return 100 * time.Millisecond
	case 2:
		return 200 * time.Millisecond
	case 3:
		return 300 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Config holds gateway connection settings.
type Config struct {
	// Host is the gateway address.
	Host string

	// Port defaults to DefaultPlainPort, or DefaultChallengePort when Login
	// is a ChallengeLogin.
	Port int

	// ClientID namespaces record keys. Default: hex MD5 of Host.
	ClientID string

	// Login selects the handshake. Default: PlainLogin with password "1234".
	Login LoginStrategy

	// SystemLevel selects the send pacing, see PacingInterval.
	SystemLevel int

	// ConnectTimeout bounds one dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the first backoff delay. Default: 15 seconds.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff. Default: 2 minutes.
	MaxReconnectInterval time.Duration

	// HeartbeatInterval is the keep-alive period. Default: 15 seconds.
	HeartbeatInterval time.Duration

	// DisableHeartbeat turns keep-alives and silence detection off.
	DisableHeartbeat bool

	// LoginTimeout bounds the wait for the login verdict. Default: 2 seconds.
	LoginTimeout time.Duration

	// ShowStopScene also admits the stop-scene id range.
	ShowStopScene bool

	// Language picks the default names when Names is nil.
	Language string
	Names    Names

	// Store persists the device bucket. Nil keeps records in memory.
	Store Store

	// EventQueueSize moves event delivery to its own goroutine when > 0.
	EventQueueSize int

	// OnLongFrame receives long frames. Optional.
	OnLongFrame func(frame []byte)

	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	FramesRx        uint64
	FramesTx        uint64
	FramesDropped   uint64 // instructions refused by a full queue or a missing session
	EventsDropped   uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	State           State
}

// FeedbackFunc observes every inbound short frame. Returning an error
// removes it.
type FeedbackFunc func(ins Instruction) error

// Client is a session with one KLW gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Events for one device are delivered in the order frames arrived.
//
// Reconnection:
//   - A supervisor re-dials with exponential backoff whenever the client is
//     not authenticated and not already connecting.
//   - Reconnection stops only when Stop is called.
type Client struct {
	cfg    Config
	addr   string
	logger Logger

	buffers  *Buffers
	bucket   *Bucket
	engine   *Engine
	router   *router
	notifier *Notifier
	control  *Controller

	state atomic.Int32

	connMu  sync.Mutex
	session *session
	nextID  atomic.Uint64
	writeMu sync.Mutex

	rxMu sync.Mutex
	rx   []byte

	outbound chan Instruction

	feedbackMu  sync.RWMutex
	feedback    map[string]feedbackObserver
	feedbackGen uint64

	lost    chan struct{}
	started atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   *closeOnce
	stop   sync.Once
	wg     sync.WaitGroup

	everAuthenticated atomic.Bool
	lastSeen          atomic.Int64 // unix nanoseconds

	framesRx        atomic.Uint64
	framesTx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// session is one open socket and its login attempt.
type session struct {
	id   uint64
	conn net.Conn
	hs   Handshake
	c    *Client
}

func (s *session) Enqueue(ins Instruction) error { return s.c.enqueue(ins) }

func (s *session) WriteRaw(b []byte) error { return s.c.write(s.conn, b) }

// DefaultClientID is the record namespace used when Config.ClientID is
// empty: the hex MD5 of the gateway host.
func DefaultClientID(host string) string {
	sum := md5.Sum([]byte(host))
	return hex.EncodeToString(sum[:])
}

// New creates a client. Nothing is dialled until Connect.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}
	if cfg.Login == nil {
		cfg.Login = PlainLogin{Password: "1234"}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPlainPort
		if _, ok := cfg.Login.(ChallengeLogin); ok {
			cfg.Port = DefaultChallengePort
		}
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID(cfg.Host)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = max(maxReconnectInterval, cfg.ReconnectInterval)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.Names == nil {
		cfg.Names = DefaultNames(cfg.Language)
	}

	logger := orNop(cfg.Logger)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger:   logger,
		buffers:  NewBuffers(logger),
		outbound: make(chan Instruction, outboundQueueSize),
		feedback: make(map[string]feedbackObserver),
		lost:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     newCloseOnce(),
	}
	c.bucket = NewBucket(BucketOptions{Store: cfg.Store, Persist: cfg.Store != nil, Logger: logger})
	c.engine = NewEngine(EngineOptions{
		NetworkID: cfg.ClientID,
		Bucket:    c.bucket,
		Names:     cfg.Names,
		Volume:    c.buffers.Volume,
		FM:        c.buffers.FM,
	})
	c.router = &router{buffers: c.buffers, showStopScene: cfg.ShowStopScene}
	if cfg.EventQueueSize > 0 {
		c.notifier = NewQueuedNotifier(logger, cfg.EventQueueSize)
	} else {
		c.notifier = NewNotifier(logger)
	}
	c.control = NewController(c.bucket, c, logger)

	for _, buf := range c.buffers.Classified() {
		buf.Listen(engineListenerKey, func(_ BufferEvent, uid string, ins Instruction) error {
			upd, ok := c.engine.Apply(ins, buf.Category(), uid)
			if ok {
				c.notifier.Emit(Event{Type: EventDeviceChanged, Record: upd.Record, IsNew: upd.IsNew})
			}
			return nil
		})
	}
	return c, nil
}

// Connect loads persisted records, starts the workers and makes the first
// connection attempt.
//
// It returns nil even when the first attempt fails: the supervisor keeps
// retrying in the background and the outcome arrives as events. Only a
// stopped client returns an error.
func (c *Client) Connect(ctx context.Context) error {
	if c.done.IsClosed() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.bucket.Load(ctx); err != nil {
		c.logger.Warn("loading persisted devices failed, starting empty", "error", err)
	}
	c.bucket.Start()

	c.wg.Add(3)
	go c.sendLoop()
	go c.heartbeatLoop()
	go c.superviseLoop()

	if err := c.attempt(ctx); err != nil {
		c.logger.Warn("initial connection attempt failed", "address", c.addr, "error", err)
	}
	return nil
}

// Stop ends the session and every worker. Queued instructions are
// discarded. Safe to call more than once.
func (c *Client) Stop() error {
	var err error
	c.stop.Do(func() {
		c.done.Close()
		c.cancel()

		c.connMu.Lock()
		s := c.session
		c.session = nil
		c.connMu.Unlock()
		if s != nil {
			s.conn.Close()
		}
		c.state.Store(int32(StateDisconnected))

		for _, buf := range c.buffers.All() {
			buf.UnlistenAll()
		}
		c.feedbackMu.Lock()
		c.feedback = make(map[string]feedbackObserver)
		c.feedbackMu.Unlock()
		c.notifier.RemoveAll()

		c.wg.Wait()
		c.drainOutbound()

		err = c.bucket.Close()
		c.notifier.Close()
		c.logger.Info("gateway client stopped", "address", c.addr)
	})
	return err
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the session is authenticated.
func (c *Client) IsConnected() bool {
	return c.State() == StateAuthenticated
}

// ClientID returns the network id prefixing every record key.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// Address returns the gateway host:port.
func (c *Client) Address() string { return c.addr }

// Send queues an instruction for the paced sender.
func (c *Client) Send(ins Instruction) error {
	if c.done.IsClosed() {
		return ErrClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.enqueue(ins)
}

// Control runs a control action on a batch of devices and returns the
// number of instructions queued.
func (c *Client) Control(action Action, items []Item) int {
	return c.control.Control(action, items)
}

// Execute runs a JSON control envelope.
func (c *Client) Execute(envelope []byte) (int, error) {
	return c.control.Execute(envelope)
}

// Devices returns every stored record.
func (c *Client) Devices() []Record { return c.bucket.Records() }

// Device returns the record stored under oid.
func (c *Client) Device(oid string) (Record, bool) { return c.bucket.Get(oid) }

// Buffers exposes the category buffers for inspection.
func (c *Client) Buffers() *Buffers { return c.buffers }

// ClearBuffers empties every category buffer, so the next report of each
// device is treated as new.
func (c *Client) ClearBuffers() { c.buffers.Clear() }

// ClearBucket removes every stored record and persists the empty set.
func (c *Client) ClearBucket() { c.bucket.Clear() }

// DeleteDevice removes the record stored under oid and persists the
// change. The next report from the device recreates it.
func (c *Client) DeleteDevice(oid string) { c.bucket.Delete(oid, true) }

// DeleteNetwork removes every record of network nid and returns how many
// were removed.
func (c *Client) DeleteNetwork(nid string) int {
	return c.bucket.DeleteByPrefix(nid+".", true)
}

// Subscribe registers fn for events of type t.
func (c *Client) Subscribe(t EventType, fn Handler) (unsubscribe func()) {
	return c.notifier.Subscribe(t, fn)
}

// AddFeedback registers fn under key to observe every inbound short frame.
func (c *Client) AddFeedback(key string, fn FeedbackFunc) {
	c.feedbackMu.Lock()
	c.feedbackGen++
	c.feedback[key] = feedbackObserver{gen: c.feedbackGen, fn: fn}
	c.feedbackMu.Unlock()
}

type feedbackObserver struct {
	gen uint64
	fn  FeedbackFunc
}

// FeedbackCount returns the number of registered feedback observers.
func (c *Client) FeedbackCount() int {
	c.feedbackMu.RLock()
	defer c.feedbackMu.RUnlock()
	return len(c.feedback)
}

// RemoveFeedback unregisters the observer under key.
func (c *Client) RemoveFeedback(key string) {
	c.feedbackMu.Lock()
	delete(c.feedback, key)
	c.feedbackMu.Unlock()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	var last time.Time
	if ns := c.lastSeen.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		FramesRx:        c.framesRx.Load(),
		FramesTx:        c.framesTx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		EventsDropped:   c.notifier.Dropped(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    last,
		State:           c.State(),
	}
}

// HealthCheck reports whether the session is authenticated.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.done.IsClosed() {
		return ErrClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// attempt dials, logs in and primes the device state. It is a no-op
// unless the client is disconnected.
func (c *Client) attempt(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}
	c.emitState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.addr)
	cancel()
	if err != nil {
		c.errorsTotal.Add(1)
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.addr, err)
	}

	s := &session{id: c.nextID.Add(1), conn: conn, hs: c.cfg.Login.NewHandshake(), c: c}

	c.connMu.Lock()
	if c.done.IsClosed() {
		c.connMu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.session = s
	c.connMu.Unlock()

	c.rxMu.Lock()
	c.rx = c.rx[:0]
	c.rxMu.Unlock()
	c.lastSeen.Store(time.Now().UnixNano())
	c.setState(StateAuthPending)
	c.logger.Info("connected to gateway", "address", c.addr, "login", c.cfg.Login.Name())

	c.wg.Add(1)
	go c.receiveLoop(s)

	if err := s.hs.Begin(s); err != nil {
		c.teardown(s, err)
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	err = s.hs.Wait(loginCtx)
	cancel()
	if err != nil {
		c.logger.Warn("gateway login failed", "address", c.addr, "error", err)
		c.notifier.Emit(Event{Type: EventLoginFailure, Err: err})
		c.teardown(s, err)
		return err
	}

	if !c.state.CompareAndSwap(int32(StateAuthPending), int32(StateAuthenticated)) {
		return ErrNotConnected
	}
	if c.everAuthenticated.Swap(true) {
		c.reconnectsTotal.Add(1)
	}
	c.logger.Info("gateway login succeeded", "address", c.addr)
	c.emitState(StateAuthenticated)
	c.notifier.Emit(Event{Type: EventLoginSuccess})

	for _, ins := range queryAll {
		if err := c.enqueue(ins); err != nil {
			c.logger.Warn("queueing state query failed", "error", err)
		}
	}
	return nil
}

// teardown closes s if it is still the active session and moves the client
// to Disconnected. Stale sessions are just closed.
func (c *Client) teardown(s *session, cause error) {
	c.connMu.Lock()
	active := c.session == s
	if active {
		c.session = nil
	}
	c.connMu.Unlock()

	s.conn.Close()
	if !active || c.done.IsClosed() {
		return
	}

	c.drainOutbound()
	if c.setState(StateDisconnected) {
		c.logger.Warn("gateway session closed", "address", c.addr, "session", s.id, "cause", cause)
	}
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// setState stores st and emits a state change. It reports whether the
// state changed.
func (c *Client) setState(st State) bool {
	if State(c.state.Swap(int32(st))) == st {
		return false
	}
	c.emitState(st)
	return true
}

func (c *Client) emitState(st State) {
	c.notifier.Emit(Event{Type: EventConnectionState, State: st})
}

func (c *Client) currentSession() *session {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.session
}

func (c *Client) enqueue(ins Instruction) error {
	if c.done.IsClosed() {
		return ErrClosed
	}
	select {
	case c.outbound <- ins:
		return nil
	default:
		c.framesDropped.Add(1)
		return ErrQueueFull
	}
}

func (c *Client) drainOutbound() {
	for {
		select {
		case <-c.outbound:
		default:
			return
		}
	}
}

func (c *Client) write(conn net.Conn, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// sendLoop is the single writer of queued instructions, pacing each send
// by the system level.
func (c *Client) sendLoop() {
	defer c.wg.Done()

	pace := time.NewTimer(0)
	defer pace.Stop()
	interval := PacingInterval(c.cfg.SystemLevel)

	for {
		select {
		case <-c.done.Done():
			return
		case ins := <-c.outbound:
			s := c.currentSession()
			if s == nil {
				c.framesDropped.Add(1)
				continue
			}
			if err := c.write(s.conn, ins.Bytes()); err != nil {
				c.errorsTotal.Add(1)
				c.teardown(s, err)
				continue
			}
			c.framesTx.Add(1)

			pace.Reset(interval)
			select {
			case <-c.done.Done():
				return
			case <-pace.C:
			}
		}
	}
}

// heartbeatLoop keeps the session alive and tears it down when the gateway
// falls silent for silenceFactor intervals.
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	if c.cfg.DisableHeartbeat {
		return
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	limit := silenceFactor * c.cfg.HeartbeatInterval

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
		}
		if !c.IsConnected() {
			continue
		}
		s := c.currentSession()
		if s == nil {
			continue
		}
		if silent := time.Since(time.Unix(0, c.lastSeen.Load())); silent > limit {
			c.errorsTotal.Add(1)
			c.teardown(s, fmt.Errorf("%w: silent for %s", ErrGatewaySilent, silent.Round(time.Millisecond)))
			continue
		}
		if err := c.enqueue(heartbeatInstruction); err != nil {
			c.logger.Debug("heartbeat not queued", "error", err)
		}
	}
}

// superviseLoop re-dials with exponential backoff while the client is not
// authenticated.
func (c *Client) superviseLoop() {
	defer c.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInterval
	b.MaxInterval = c.cfg.MaxReconnectInterval
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(b.NextBackOff())
	defer timer.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-c.lost:
			timer.Reset(b.NextBackOff())
			continue
		case <-timer.C:
		}

		switch c.State() {
		case StateAuthenticated:
			b.Reset()
			timer.Reset(c.cfg.ReconnectInterval)
			continue
		case StateDisconnected:
			c.logger.Info("reconnecting to gateway", "address", c.addr)
			if err := c.attempt(c.ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				c.logger.Warn("reconnect failed", "address", c.addr, "error", err)
			} else if c.IsConnected() {
				b.Reset()
			}
		}
		// drop a loss signal raised by the attempt itself
		select {
		case <-c.lost:
		default:
		}
		timer.Reset(b.NextBackOff())
	}
}

// receiveLoop reads s until it fails.
func (c *Client) receiveLoop(s *session) {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			c.consume(s, buf[:n])
		}
		if err != nil {
			if c.done.IsClosed() {
				return
			}
			if !errors.Is(err, net.ErrClosed) {
				c.errorsTotal.Add(1)
			}
			c.teardown(s, err)
			return
		}
	}
}

// consume appends data to the receive buffer, lets the handshake take its
// frames and handles every complete frame in arrival order.
func (c *Client) consume(s *session, data []byte) {
	if c.currentSession() != s {
		return
	}

	c.rxMu.Lock()
	c.rx = append(c.rx, data...)
	for !c.IsConnected() && len(c.rx) > 0 {
		n, hold := s.hs.Intercept(s, c.rx)
		c.rx = c.rx[n:]
		if n > 0 {
			c.touch()
		}
		if n == 0 {
			if hold {
				c.rxMu.Unlock()
				return
			}
			break
		}
	}
	frames, consumed := splitFrames(c.rx)
	c.rx = append(c.rx[:0], c.rx[consumed:]...)
	c.rxMu.Unlock()

	for _, f := range frames {
		c.handleFrame(s, f)
	}
}

// touch records a successfully parsed inbound frame for the silence check.
// Undecodable bytes do not count.
func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) handleFrame(s *session, f frame) {
	if f.long {
		c.framesRx.Add(1)
		c.touch()
		if hook := c.cfg.OnLongFrame; hook != nil {
			c.safeCall("long frame hook", func() { hook(f.data) })
		}
		return
	}

	ins, err := DecodeInstruction(f.data)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logger.Debug("discarding frame", "frame", hex.EncodeToString(f.data), "error", err)
		return
	}
	c.framesRx.Add(1)
	c.touch()

	c.router.route(ins)
	s.hs.Feedback(ins)
	c.notifyFeedback(ins)
}

func (c *Client) notifyFeedback(ins Instruction) {
	c.feedbackMu.RLock()
	if len(c.feedback) == 0 {
		c.feedbackMu.RUnlock()
		return
	}
	observers := make(map[string]feedbackObserver, len(c.feedback))
	for k, o := range c.feedback {
		observers[k] = o
	}
	c.feedbackMu.RUnlock()

	for key, o := range observers {
		if err := invokeFeedback(o.fn, ins); err != nil {
			c.logger.Warn("feedback observer failed, removing", "key", key, "error", err)
			c.feedbackMu.Lock()
			if cur, ok := c.feedback[key]; ok && cur.gen == o.gen {
				delete(c.feedback, key)
			}
			c.feedbackMu.Unlock()
		}
	}
}

func invokeFeedback(fn FeedbackFunc, ins Instruction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ins)
}

func (c *Client) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logger.Error(what+" panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
