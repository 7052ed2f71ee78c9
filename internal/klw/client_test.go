package klw

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeGateway accepts connections on a loopback port and runs handle for
// each of them.
type fakeGateway struct {
	ln       net.Listener
	accepted chan net.Conn
	wg       sync.WaitGroup
}

func newFakeGateway(t *testing.T, handle func(conn net.Conn)) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := &fakeGateway{ln: ln, accepted: make(chan net.Conn, 16)}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			select {
			case g.accepted <- conn:
			default:
			}
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-g.accepted:
				c.Close()
				continue
			default:
			}
			break
		}
		g.wg.Wait()
	})
	return g
}

func (g *fakeGateway) port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

// acceptPassword reads the two password instructions for "1234" and
// answers with verdict.
func acceptPassword(conn net.Conn, verdict Instruction) bool {
	buf := make([]byte, 2*InstructionSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return false
	}
	_, err := conn.Write(verdict.Bytes())
	return err == nil
}

func drain(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn) //nolint:errcheck // ends when the client hangs up
}

func newTestClient(t *testing.T, port int, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Host:              "127.0.0.1",
		Port:              port,
		ClientID:          "test",
		Login:             PlainLogin{Password: "1234"},
		ConnectTimeout:    time.Second,
		ReconnectInterval: 50 * time.Millisecond,
		HeartbeatInterval: time.Second,
		LoginTimeout:      time.Second,
		Language:          "en",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

func waitEvent(t *testing.T, ch <-chan Event, what string) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return Event{}
	}
}

func collect(c *Client, t EventType) <-chan Event {
	ch := make(chan Event, 64)
	c.Subscribe(t, func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{Host: "10.0.0.8"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Address() != "10.0.0.8:"+strconv.Itoa(DefaultPlainPort) {
		t.Errorf("Address() = %q", c.Address())
	}
	if len(c.ClientID()) != 32 || c.ClientID() != DefaultClientID("10.0.0.8") {
		t.Errorf("ClientID() = %q, want md5 hex", c.ClientID())
	}

	lc, err := New(Config{Host: "10.0.0.8", Login: ChallengeLogin{Code: "x"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if lc.Address() != "10.0.0.8:"+strconv.Itoa(DefaultChallengePort) {
		t.Errorf("challenge Address() = %q", lc.Address())
	}

	if _, err := New(Config{}); err == nil {
		t.Error("New() without host should fail")
	}
}

func TestPacingInterval(t *testing.T) {
	tests := map[int]time.Duration{
		0: 50 * time.Millisecond,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
		4: 500 * time.Millisecond,
		9: 500 * time.Millisecond,
	}
	for level, want := range tests {
		if got := PacingInterval(level); got != want {
			t.Errorf("PacingInterval(%d) = %v, want %v", level, got, want)
		}
	}
}

func TestClientPlainLoginAndDeviceEvent(t *testing.T) {
	device := NewInstruction(243, 199, 1, 2, 5, 0, 1)
	g := newFakeGateway(t, func(conn net.Conn) {
		if !acceptPassword(conn, NewInstruction(243, 130, 0, 0, 0, 0, 0)) {
			return
		}
		if _, err := conn.Write(device.Bytes()); err != nil {
			return
		}
		drain(conn)
	})

	c := newTestClient(t, g.port(), nil)
	logins := collect(c, EventLoginSuccess)
	changes := collect(c, EventDeviceChanged)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitEvent(t, logins, "login success")
	if !c.IsConnected() {
		t.Errorf("State() = %v, want authenticated", c.State())
	}

	ev := waitEvent(t, changes, "device change")
	if ev.Record.OID != "test.243-199-1-2-5.3" {
		t.Errorf("OID = %q", ev.Record.OID)
	}
	if !ev.IsNew || ev.Record.Detail.Kind != KindSwitch || !ev.Record.Detail.IsOn() {
		t.Errorf("event = %+v detail = %+v", ev, ev.Record.Detail)
	}
	if _, ok := c.Device(ev.Record.OID); !ok {
		t.Error("Device() does not find the reported record")
	}
	if len(c.Devices()) != 1 {
		t.Errorf("Devices() = %d records", len(c.Devices()))
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClientControlReachesGateway(t *testing.T) {
	received := make(chan Instruction, 16)
	g := newFakeGateway(t, func(conn net.Conn) {
		if !acceptPassword(conn, NewInstruction(243, 130, 0, 0, 0, 0, 0)) {
			return
		}
		if _, err := conn.Write(NewInstruction(243, 199, 1, 2, 5, 0, 1).Bytes()); err != nil {
			return
		}
		buf := make([]byte, InstructionSize)
		for {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			ins, err := DecodeInstruction(buf)
			if err == nil && ins.D2() == 158 {
				received <- ins
			}
		}
	})

	c := newTestClient(t, g.port(), nil)
	changes := collect(c, EventDeviceChanged)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev := waitEvent(t, changes, "device change")

	if n := c.Control(ActionDeviceOff, []Item{{ID: ev.Record.OID}}); n != 1 {
		t.Fatalf("Control() = %d, want 1", n)
	}

	select {
	case ins := <-received:
		if ins != NewInstruction(243, 158, 1, 2, 5, 0, 0) {
			t.Errorf("gateway received %v", ins)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("control instruction never reached the gateway")
	}
}

func TestClientLoginRejected(t *testing.T) {
	g := newFakeGateway(t, func(conn net.Conn) {
		if acceptPassword(conn, NewInstruction(243, 130, 1, 1, 1, 1, 1)) {
			drain(conn)
		}
	})

	c := newTestClient(t, g.port(), func(cfg *Config) { cfg.ReconnectInterval = time.Minute })
	failures := collect(c, EventLoginFailure)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, want nil even on failure", err)
	}

	ev := waitEvent(t, failures, "login failure")
	if !errors.Is(ev.Err, ErrLoginFailed) {
		t.Errorf("event error = %v, want ErrLoginFailed", ev.Err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	if err := c.Send(heartbeatInstruction); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestClientSilentGatewayReconnects(t *testing.T) {
	g := newFakeGateway(t, func(conn net.Conn) {
		if acceptPassword(conn, NewInstruction(243, 130, 0, 0, 0, 0, 0)) {
			drain(conn)
		}
	})

	c := newTestClient(t, g.port(), func(cfg *Config) {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	})
	states := collect(c, EventConnectionState)
	logins := collect(c, EventLoginSuccess)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, logins, "first login")

	deadline := time.After(3 * time.Second)
	for disconnected := false; !disconnected; {
		select {
		case ev := <-states:
			disconnected = ev.State == StateDisconnected
		case <-deadline:
			t.Fatal("silent gateway never caused a disconnect")
		}
	}

	waitEvent(t, logins, "login after reconnect")
	if got := c.Stats().ReconnectsTotal; got == 0 {
		t.Errorf("ReconnectsTotal = %d, want > 0", got)
	}
}

func TestClientChallengeLogin(t *testing.T) {
	const code = "s3cret"
	answered := make(chan []byte, 1)

	g := newFakeGateway(t, func(conn net.Conn) {
		req := challengeFrame()
		if _, err := conn.Write(req); err != nil {
			return
		}
		resp := make([]byte, challengeFrameSize)
		if _, err := io.ReadFull(conn, resp); err != nil {
			return
		}
		answered <- resp

		verdict := make([]byte, challengeFrameSize)
		verdict[challengeSubtypeOffset] = challengeVerdict
		verdict[challengeDataOffset] = 1
		frame := append(verdict, NewInstruction(243, 129, 1, 2, 130, 128, 0).Bytes()...)
		if _, err := conn.Write(frame); err != nil {
			return
		}
		drain(conn)
	})

	c := newTestClient(t, g.port(), func(cfg *Config) {
		cfg.Login = ChallengeLogin{Code: code}
	})
	logins := collect(c, EventLoginSuccess)
	changes := collect(c, EventDeviceChanged)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, logins, "challenge login")

	want, err := AnswerChallenge(challengeFrame(), CipherDecrypt, code)
	if err != nil {
		t.Fatal(err)
	}
	if got := <-answered; string(got) != string(want) {
		t.Errorf("gateway received %v, want %v", got, want)
	}

	ev := waitEvent(t, changes, "scene after login")
	if ev.Record.Detail.Kind != KindScene {
		t.Errorf("Kind = %v, want scene", ev.Record.Detail.Kind)
	}
}

func TestClientStop(t *testing.T) {
	c := newTestClient(t, 1, nil)

	c.AddFeedback("consumer", func(Instruction) error { return nil })
	var hits int
	c.Buffers().Device.Listen("consumer", func(BufferEvent, string, Instruction) error {
		hits++
		return nil
	})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Stop error = %v, want ErrClosed", err)
	}
	if err := c.Send(heartbeatInstruction); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Stop error = %v, want ErrClosed", err)
	}

	if n := c.FeedbackCount(); n != 0 {
		t.Errorf("FeedbackCount() after Stop = %d, want 0", n)
	}
	for _, buf := range c.Buffers().All() {
		if keys := buf.Listeners(); len(keys) != 0 {
			t.Errorf("buffer %s keeps listeners %v after Stop", buf.Name(), keys)
		}
	}
	c.Buffers().Device.Add(NewInstruction(243, 199, 1, 2, 3, 0, 0), 0, 1, 2, 3, 4)
	if hits != 0 {
		t.Errorf("consumer listener called %d times after Stop", hits)
	}
}

func TestClientUndecodableFramesDoNotKeepAlive(t *testing.T) {
	bad := NewInstruction(243, 154, 1, 2, 3, 0, 0).Bytes()
	bad[7]++

	g := newFakeGateway(t, func(conn net.Conn) {
		if !acceptPassword(conn, NewInstruction(243, 130, 0, 0, 0, 0, 0)) {
			return
		}
		go drain(conn)
		for {
			if _, err := conn.Write(bad); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	c := newTestClient(t, g.port(), func(cfg *Config) {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	})
	states := collect(c, EventConnectionState)
	logins := collect(c, EventLoginSuccess)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitEvent(t, logins, "login")

	deadline := time.After(3 * time.Second)
	for disconnected := false; !disconnected; {
		select {
		case ev := <-states:
			disconnected = ev.State == StateDisconnected
		case <-deadline:
			t.Fatal("frames with a bad checksum kept the session alive")
		}
	}
	if c.Stats().ErrorsTotal == 0 {
		t.Error("ErrorsTotal = 0, want bad frames counted")
	}
}

func TestClientFeedbackObserver(t *testing.T) {
	g := newFakeGateway(t, func(conn net.Conn) {
		if !acceptPassword(conn, NewInstruction(243, 130, 0, 0, 0, 0, 0)) {
			return
		}
		for i := range 3 {
			if _, err := conn.Write(NewInstruction(1, 2, 3, 4, 5, 6, i).Bytes()); err != nil {
				return
			}
		}
		drain(conn)
	})

	c := newTestClient(t, g.port(), nil)
	seen := make(chan Instruction, 16)
	var calls int
	var mu sync.Mutex
	c.AddFeedback("raw", func(ins Instruction) error {
		if ins.D1() == 1 {
			seen <- ins
		}
		return nil
	})
	c.AddFeedback("once", func(Instruction) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("done")
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for i := range 3 {
		select {
		case <-seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d not observed", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("failing observer called %d times, want 1", calls)
	}
}

func TestClientDeleteRecords(t *testing.T) {
	c := newTestClient(t, 1, nil)
	for _, oid := range []string{"test.243-199-1-2-3.3", "test.243-199-1-2-4.3", "other.243-199-1-2-3.3", "tester.1.3"} {
		c.bucket.Put(Record{OID: oid}, false)
	}

	c.DeleteDevice("test.243-199-1-2-4.3")
	if _, ok := c.Device("test.243-199-1-2-4.3"); ok {
		t.Error("DeleteDevice() left the record")
	}

	if n := c.DeleteNetwork("test"); n != 1 {
		t.Errorf("DeleteNetwork() = %d, want 1", n)
	}
	if got := len(c.Devices()); got != 2 {
		t.Errorf("Devices() = %d records, want other and tester kept", got)
	}
}
