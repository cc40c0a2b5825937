package session

import (
	"context"
	"sync"
	"time"

	"gowa-fleet/config"
	"gowa-fleet/internal/transport"

	"github.com/rs/zerolog"
)

// testConfig uses short durations so timer behavior is observable.
func testConfig() *config.Config {
	return &config.Config{
		GateCapacity:        2,
		QRTTL:               150 * time.Millisecond,
		QRWait:              300 * time.Millisecond,
		PairWait:            300 * time.Millisecond,
		HeartbeatInterval:   20 * time.Millisecond,
		HeartbeatTimeout:    10 * time.Millisecond,
		HeartbeatThreshold:  3,
		SweepInterval:       time.Hour,
		AuthRetryDelay:      10 * time.Millisecond,
		TransientRetryDelay: 10 * time.Millisecond,
		ChallengeRetryDelay: 10 * time.Millisecond,
		ServerRetryDelay:    60 * time.Millisecond,
		ConflictRetryDelay:  150 * time.Millisecond,
		RetryBackoffInitial: 10 * time.Millisecond,
		RetryBackoffCeiling: 40 * time.Millisecond,
	}
}

type fakeCreds struct {
	registered bool
}

func (f fakeCreds) Registered() bool { return f.registered }

type fakeStore struct {
	mu      sync.Mutex
	creds   map[string]bool
	wipes   int
	wipeErr error
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{creds: make(map[string]bool)}
	for _, id := range ids {
		s.creds[id] = true
	}
	return s
}

func (s *fakeStore) Load(_ context.Context, id string) (transport.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds[id] {
		return fakeCreds{registered: true}, nil
	}
	return nil, nil
}

func (s *fakeStore) Save(_ context.Context, id string, creds transport.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[id] = true
	return nil
}

func (s *fakeStore) Wipe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wipeErr != nil {
		return s.wipeErr
	}
	delete(s.creds, id)
	s.wipes++
	return nil
}

func (s *fakeStore) setWipeErr(err error) {
	s.mu.Lock()
	s.wipeErr = err
	s.mu.Unlock()
}

func (s *fakeStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[id]
}

func (s *fakeStore) wipeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wipes
}

type fakeConn struct {
	mu        sync.Mutex
	events    chan transport.Event
	closed    bool
	connected bool
	pingErr   error
	sendErr   error
	pairCode  string
	pairErr   error
	loggedOut bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:    make(chan transport.Event, 16),
		connected: true,
		pairCode:  "ABCD-1234",
	}
}

func (c *fakeConn) Events() <-chan transport.Event { return c.events }

// emit drives the session from tests.
func (c *fakeConn) emit(evt transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- evt
	}
}

func (c *fakeConn) SendText(_ context.Context, to, body string) (*transport.Receipt, error) {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &transport.Receipt{ID: "MSG1", Timestamp: time.Now()}, nil
}

func (c *fakeConn) RequestPairingCode(_ context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairCode, c.pairErr
}

func (c *fakeConn) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setSendErr(err error, connected bool) {
	c.mu.Lock()
	c.sendErr = err
	c.connected = connected
	c.mu.Unlock()
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Credentials() transport.Credentials {
	return fakeCreds{registered: true}
}

func (c *fakeConn) Logout(_ context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) wasLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu        sync.Mutex
	dialErr   error
	dialBlock chan struct{} // when set, Dial parks until it is closed
	conns     []*fakeConn
	dials     int
	lastOpts  transport.DialOptions
}

func (t *fakeTransport) Dial(_ context.Context, id string, creds transport.Credentials, opts transport.DialOptions) (transport.Conn, error) {
	t.mu.Lock()
	t.dials++
	t.lastOpts = opts
	block := t.dialBlock
	err := t.dialErr
	t.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func (t *fakeTransport) openConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (t *fakeTransport) lastDialOpts() transport.DialOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOpts
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	t.dialErr = err
	t.mu.Unlock()
}

func newTestDeps(cfg *config.Config, ft *fakeTransport, fs *fakeStore) *deps {
	return &deps{
		cfg:       cfg,
		log:       zerolog.Nop(),
		gate:      NewGate(cfg.GateCapacity),
		transport: ft,
		store:     fs,
		remove:    func(string) {},
	}
}
