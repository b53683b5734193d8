// Package websocket is the default p2p.ChannelFactory: outbound dials
// with gorilla/websocket.Dialer, inbound accepts via an http.Server +
// Upgrader fronted by rs/cors, each connection wrapped as a p2p.Channel.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/cors"

	"github.com/capmesh/peernet/internal/plog"
	"github.com/capmesh/peernet/p2p"

	"github.com/gorilla/websocket"
)

// AddressResolver maps a PeerID and its location hints to a dial URL.
// The factory itself knows nothing about address books or relays; it
// only speaks websocket once handed a URL.
type AddressResolver func(peerID p2p.PeerID, hints []p2p.LocationHint) (string, error)

// Config configures a Factory.
type Config struct {
	// Resolve maps a peer to a dial URL. Required for DialIdempotent.
	Resolve AddressResolver
	// ListenAddr, if non-empty, starts an inbound HTTP upgrade server.
	ListenAddr string
	// UpgradePath is the HTTP path the upgrader listens on.
	UpgradePath string
	// CORSOrigins configures rs/cors AllowedOrigins for the upgrade
	// endpoint.
	CORSOrigins []string
	// HandshakeTimeout bounds the client dial handshake.
	HandshakeTimeout time.Duration
	// PeerIDHeader is the HTTP header an inbound client must set to
	// identify itself before upgrade.
	PeerIDHeader string
}

func (c Config) withDefaults() Config {
	if c.UpgradePath == "" {
		c.UpgradePath = "/p2p"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PeerIDHeader == "" {
		c.PeerIDHeader = "X-Peer-Id"
	}
	return c
}

// Factory implements p2p.ChannelFactory over websocket connections.
type Factory struct {
	cfg    Config
	dialer websocket.Dialer

	inflight sync.Map // p2p.PeerID -> *sync.Mutex, serializes concurrent DialIdempotent calls per peer (each call still dials its own connection)

	mu       sync.Mutex
	inbound  func(peerID p2p.PeerID, ch p2p.Channel)
	server   *http.Server
	accepts  *lru.Cache[string, time.Time]
	upgrader websocket.Upgrader
}

// New constructs a Factory. If cfg.ListenAddr is set, call Serve to
// start the inbound upgrade endpoint.
func New(cfg Config) *Factory {
	cfg = cfg.withDefaults()
	accepts, _ := lru.New[string, time.Time](256)
	f := &Factory{
		cfg:     cfg,
		accepts: accepts,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	return f
}

func (f *Factory) DialIdempotent(ctx context.Context, peerID p2p.PeerID, hints []p2p.LocationHint, retry bool) (p2p.Channel, error) {
	lockAny, _ := f.inflight.LoadOrStore(peerID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if f.cfg.Resolve == nil {
		return nil, errNoResolver
	}
	url, err := f.cfg.Resolve(peerID, hints)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	conn, _, err := f.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &channel{conn: conn}, nil
}

func (f *Factory) OnInboundConnection(cb func(peerID p2p.PeerID, ch p2p.Channel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = cb
}

func (f *Factory) CloseChannel(ctx context.Context, ch p2p.Channel, peerID p2p.PeerID) error {
	return ch.Close()
}

// Serve starts the inbound HTTP upgrade server if ListenAddr is set. It
// blocks until the server stops; run it in its own goroutine.
func (f *Factory) Serve() error {
	if f.cfg.ListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc(f.cfg.UpgradePath, f.handleUpgrade)

	handler := cors.New(cors.Options{AllowedOrigins: f.cfg.CORSOrigins}).Handler(mux)

	f.mu.Lock()
	f.server = &http.Server{Addr: f.cfg.ListenAddr, Handler: handler}
	server := f.server
	f.mu.Unlock()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (f *Factory) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	peerID := p2p.PeerID(r.Header.Get(f.cfg.PeerIDHeader))
	if peerID == "" {
		http.Error(w, "missing peer id header", http.StatusBadRequest)
		return
	}

	f.recordAccept(r.RemoteAddr)

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	cb := f.inbound
	f.mu.Unlock()
	if cb != nil {
		cb(peerID, &channel{conn: conn})
	}
}

// recordAccept tracks the most recent accept time per remote address in
// a bounded LRU, and warns when the same address reconnects unusually
// fast — a diagnostic only, never a rejection.
func (f *Factory) recordAccept(remoteAddr string) {
	if f.accepts == nil {
		return
	}
	now := time.Now()
	if last, ok := f.accepts.Get(remoteAddr); ok && now.Sub(last) < time.Second {
		logger := plog.New("websocket")
		plog.Warn(logger, "event", "inbound_burst", "remote", remoteAddr)
	}
	f.accepts.Add(remoteAddr, now)
}

func (f *Factory) Stop(ctx context.Context) error {
	f.mu.Lock()
	server := f.server
	f.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// channel wraps a single *websocket.Conn. gorilla/websocket permits at
// most one concurrent reader and one concurrent writer; writeMu serializes
// Write because p2p now calls it from more than one goroutine on the same
// channel (an inbound-ack writer alongside the outbound send/flush path).
type channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *channel) Read(ctx context.Context) ([]byte, error) {
	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, b, err := c.conn.ReadMessage()
		done <- result{b, err}
	}()
	select {
	case r := <-done:
		return r.b, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *channel) Write(ctx context.Context, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *channel) Close() error { return c.conn.Close() }

var errNoResolver = websocketErr("websocket: no AddressResolver configured")

type websocketErr string

func (e websocketErr) Error() string { return string(e) }
