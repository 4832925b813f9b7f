package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var errIncompletePair = errors.New("refresh returned an incomplete pair")

// DefaultRefreshTimeout bounds one refresh exchange.
const DefaultRefreshTimeout = 30 * time.Second

// Pair is the credential pair held by a Gate. The JSON shape matches the
// refresh endpoint's success body.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresher performs one refresh exchange.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Pair, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context, refreshToken string) (Pair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	return f(ctx, refreshToken)
}

// State is the renewal state of a Gate.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// flight is the single in-flight exchange. done is closed exactly once,
// after access and err are set.
type flight struct {
	done   chan struct{}
	gen    uint64
	access string
	err    error
}

// Gate serialises credential renewal for one client session.
type Gate struct {
	refresher Refresher
	timeout   time.Duration
	onSignOut func(error)
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	pair     Pair
	hasPair  bool
	gen      uint64 // bumped by SetCredentials; an exchange only settles its own generation
	inFlight *flight
	closed   bool

	ctx       context.Context
	cancel    context.CancelFunc
	exchanges atomic.Uint64
}

type Option func(*Gate)

// WithTimeout bounds each exchange; it is independent of request timeouts.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithOnSignOut registers fn, called after a failed exchange or a refused
// access token cleared the credentials.
func WithOnSignOut(fn func(error)) Option {
	return func(g *Gate) { g.onSignOut = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate returns an idle gate without credentials.
func NewGate(refresher Refresher, opts ...Option) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		refresher: refresher,
		timeout:   DefaultRefreshTimeout,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetCredentials stores the pair obtained at sign-in. An exchange still
// running for the previous pair is detached: its waiters get its result, but
// it no longer touches the stored credentials.
func (g *Gate) SetCredentials(p Pair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.gen++
	g.pair = p
	g.hasPair = p.AccessToken != "" && p.RefreshToken != ""
	g.inFlight = nil
	g.state = StateIdle
}

// Credentials returns the current pair.
func (g *Gate) Credentials() (Pair, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pair, g.hasPair
}

// AccessToken returns the current access token.
func (g *Gate) AccessToken() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pair.AccessToken, g.hasPair
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Exchanges returns how many refresh exchanges this gate started.
func (g *Gate) Exchanges() uint64 {
	return g.exchanges.Load()
}

// Renew returns an access token newer than stale. If the gate already holds
// one it is returned at once; otherwise the caller joins the in-flight
// exchange, starting it if the gate is idle.
func (g *Gate) Renew(ctx context.Context, stale string) (string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", ErrGateClosed
	}
	if !g.hasPair {
		g.mu.Unlock()
		return "", ErrUnauthenticated
	}

	f := g.inFlight
	if f == nil {
		if g.pair.AccessToken != stale {
			current := g.pair.AccessToken
			g.mu.Unlock()
			return current, nil
		}
		f = &flight{done: make(chan struct{}), gen: g.gen}
		g.inFlight = f
		g.state = StateRefreshing
		g.exchanges.Add(1)
		go g.exchange(f, g.pair.RefreshToken)
	}
	g.mu.Unlock()

	select {
	case <-f.done:
		return f.access, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.ctx.Done():
		return "", ErrGateClosed
	}
}

func (g *Gate) exchange(f *flight, refreshToken string) {
	ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
	defer cancel()

	g.logger.Debug("refreshing credentials")
	pair, err := g.refresher.Refresh(ctx, refreshToken)

	g.mu.Lock()
	if g.closed {
		f.err = ErrGateClosed
		close(f.done)
		g.mu.Unlock()
		return
	}

	current := f.gen == g.gen
	if g.inFlight == f {
		g.inFlight = nil
		g.state = StateIdle
	}
	if err == nil && (pair.AccessToken == "" || pair.RefreshToken == "") {
		err = errIncompletePair
	}
	if err == nil {
		f.access = pair.AccessToken
	} else {
		f.err = fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !current {
		close(f.done)
		g.mu.Unlock()
		g.logger.Debug("dropping exchange result for replaced credentials", "error", err)
		return
	}
	if err == nil {
		g.pair = pair
	} else {
		g.pair = Pair{}
		g.hasPair = false
	}
	close(f.done)
	g.mu.Unlock()

	if err != nil {
		g.logger.Warn("refresh failed, session signed out", "error", err)
		g.notifySignOut(f.err)
	}
}

// Invalidate signs the session out after the server refused token outright
// (revoked or malformed). It does nothing when token is no longer the
// current access token or an exchange is running, and reports whether it
// signed out.
func (g *Gate) Invalidate(token string, cause error) bool {
	g.mu.Lock()
	if g.closed || !g.hasPair || g.inFlight != nil || g.pair.AccessToken != token {
		g.mu.Unlock()
		return false
	}
	g.gen++
	g.pair = Pair{}
	g.hasPair = false
	g.mu.Unlock()

	err := fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
	g.logger.Warn("access token refused, session signed out", "error", cause)
	g.notifySignOut(err)
	return true
}

func (g *Gate) notifySignOut(err error) {
	if g.onSignOut != nil {
		g.onSignOut(err)
	}
}

// Close discards the credentials and fails every waiter with ErrGateClosed.
// An exchange still running is cancelled and its result dropped.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.state = StateIdle
	g.pair = Pair{}
	g.hasPair = false
	g.inFlight = nil
	g.mu.Unlock()

	g.cancel()
}
