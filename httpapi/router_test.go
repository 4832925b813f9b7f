package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/client"
	"github.com/coursemart/authcore/middleware"
	"github.com/coursemart/authcore/permission"
	"github.com/coursemart/authcore/session"
)

const testOrigin = "https://app.coursemart.test"

var (
	alice = authcore.Principal{ID: "u-alice", Role: permission.RoleStudent, Active: true}
	ivan  = authcore.Principal{ID: "u-ivan", Role: permission.RoleInstructor, Active: true}
	ada   = authcore.Principal{ID: "u-ada", Role: permission.RoleAdmin, Active: true}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine     *authcore.Engine
	principals *authcore.MemoryPrincipals
	clock      *testClock
	router     *gin.Engine
	server     *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ac := authcore.DefaultConfig()
	ac.Token.AccessKey = []byte("httpapi-access-key-0123456789abcdef")
	ac.Token.RefreshKey = []byte("httpapi-refresh-key-0123456789abcdef")
	ac.Token.AccessTTL = 10 * time.Second
	ac.Token.RefreshTTL = time.Hour

	principals := authcore.NewMemoryPrincipals(alice, ivan, ada)
	engine, err := authcore.New().
		WithConfig(ac).
		WithStore(session.NewMemoryStore(session.WithMemoryClock(clock.Now))).
		WithPrincipalProvider(principals).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{testOrigin}
	}
	cfg.DevLogin = true
	r := NewRouter(engine, principals, cfg, nil)
	r.GET("/courses", middleware.Gin(engine, permission.CourseRead), func(c *gin.Context) {
		res, _ := middleware.GinAuthResult(c)
		c.JSON(http.StatusOK, gin.H{"subject": res.Subject})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{engine: engine, principals: principals, clock: clock, router: r, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, p authcore.Principal) authcore.TokenPair {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"subject": p.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", p.ID, rec.Code, rec.Body.String())
	}
	var pair authcore.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	return pair
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) authcore.ErrorKind {
	t.Helper()
	var body authcore.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Kind
}

func TestRefreshEndpointRotatesAndDetectsReplay(t *testing.T) {
	f := newFixture(t, Config{})
	pair := f.login(t, alice)

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	var next authcore.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &next); err != nil || next.AccessToken == "" || next.RefreshToken == "" {
		t.Fatalf("unexpected refresh body %s err=%v", rec.Body.String(), err)
	}

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindRevoked {
		t.Fatalf("expected 401 revoked on replay, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: next.RefreshToken})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindRevoked {
		t.Fatalf("expected the replay to end the session, got %d", rec.Code)
	}
}

func TestRefreshEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", gin.H{})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindMalformed {
		t.Fatalf("expected 401 malformed for empty body, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: "forged.token.value"})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindMalformed {
		t.Fatalf("expected 401 malformed for forged token, got %d %s", rec.Code, rec.Body.String())
	}

	pair := f.login(t, alice)
	f.clock.Advance(2 * time.Hour)
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindExpired {
		t.Fatalf("expected 401 expired, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMeListsPermissions(t *testing.T) {
	f := newFixture(t, Config{})
	pair := f.login(t, ivan)

	rec := f.do(t, http.MethodGet, "/auth/me", pair.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	var me meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Subject != ivan.ID || me.Role != permission.RoleInstructor || me.SessionID == "" {
		t.Fatalf("unexpected me %+v", me)
	}
	found := false
	for _, p := range me.Permissions {
		if p == permission.CoursePublish {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected course:publish in %v", me.Permissions)
	}

	rec = f.do(t, http.MethodGet, "/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestLogoutAndLogoutAll(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.login(t, alice)
	second := f.login(t, alice)
	third := f.login(t, alice)

	rec := f.do(t, http.MethodPost, "/auth/logout", "", authcore.RefreshRequest{RefreshToken: first.RefreshToken})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: first.RefreshToken})
	if errorKind(t, rec) != authcore.KindRevoked {
		t.Fatalf("expected logged out session revoked, got %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/logout-all", second.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout-all: status %d %s", rec.Code, rec.Body.String())
	}
	for _, p := range []authcore.TokenPair{second, third} {
		rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: p.RefreshToken})
		if errorKind(t, rec) != authcore.KindRevoked {
			t.Fatalf("expected every session revoked, got %s", rec.Body.String())
		}
	}
}

func TestAdminDeactivateRevokesSessions(t *testing.T) {
	f := newFixture(t, Config{})
	admin := f.login(t, ada)
	student := f.login(t, alice)

	rec := f.do(t, http.MethodPost, "/admin/principals/"+alice.ID+"/deactivate", student.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected student forbidden, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/admin/principals/"+alice.ID+"/deactivate", admin.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate: status %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: student.RefreshToken})
	if rec.Code != http.StatusUnauthorized || errorKind(t, rec) != authcore.KindRevoked {
		t.Fatalf("expected revoked after deactivation, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/login", "", gin.H{"subject": alice.ID})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected inactive principal unable to sign in, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/admin/principals/u-nobody/deactivate", admin.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown principal, got %d", rec.Code)
	}
}

func TestAdminChangeRole(t *testing.T) {
	f := newFixture(t, Config{})
	admin := f.login(t, ada)
	student := f.login(t, alice)

	rec := f.do(t, http.MethodPut, "/admin/principals/"+alice.ID+"/role", admin.AccessToken, gin.H{"role": "wizard"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/admin/principals/"+alice.ID+"/role", admin.AccessToken, gin.H{"role": permission.RoleInstructor})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("change role: status %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", authcore.RefreshRequest{RefreshToken: student.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d", rec.Code)
	}
	var next authcore.TokenPair
	_ = json.Unmarshal(rec.Body.Bytes(), &next)

	rec = f.do(t, http.MethodGet, "/auth/me", next.AccessToken, nil)
	var me meResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &me)
	if me.Role != permission.RoleInstructor {
		t.Fatalf("expected new role after refresh, got %q", me.Role)
	}
}

func TestMissingOriginPolicy(t *testing.T) {
	f := newFixture(t, Config{})
	pair := f.login(t, alice)

	body, _ := json.Marshal(authcore.RefreshRequest{RefreshToken: pair.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without origin, got %d", rec.Code)
	}

	open := newFixture(t, Config{AllowMissingOrigin: true})
	pair = open.login(t, alice)
	body, _ = json.Marshal(authcore.RefreshRequest{RefreshToken: pair.RefreshToken})
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	open.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with AllowMissingOrigin, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodOptions, "/auth/refresh", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("expected allowed origin echoed, got %q (status %d)", got, rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/auth/refresh", nil)
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected foreign origin refused, got %q", got)
	}
}

func TestPerIPRateLimit(t *testing.T) {
	f := newFixture(t, Config{RatePerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/auth/refresh", "", gin.H{})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, "/auth/refresh", "", gin.H{})
	if rec.Code != http.StatusTooManyRequests || errorKind(t, rec) != authcore.KindRateLimited {
		t.Fatalf("expected 429 rate_limited, got %d %s", rec.Code, rec.Body.String())
	}
}

func refreshFrom(f *fixture, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader("{}"))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec.Code
}

func TestPerIPRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	f := newFixture(t, Config{RatePerSecond: 0.001, Burst: 2})

	limited := 0
	for i := 0; i < 10; i++ {
		if refreshFrom(f, "198.51.100.9:4000", fmt.Sprintf("10.0.0.%d", i)) == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 8 {
		t.Fatalf("expected 8 of 10 requests limited from one peer, got %d", limited)
	}

	// Another peer claiming the first peer's forwarded address keeps its own bucket.
	if code := refreshFrom(f, "198.51.100.10:4000", "198.51.100.9"); code != http.StatusUnauthorized {
		t.Fatalf("expected a fresh bucket for a new peer, got %d", code)
	}
}

func TestPerIPRateLimitHonoursTrustedProxy(t *testing.T) {
	f := newFixture(t, Config{RatePerSecond: 0.001, Burst: 2, TrustedProxies: []string{"192.0.2.1"}})

	for i := 0; i < 5; i++ {
		if code := refreshFrom(f, "192.0.2.1:4000", fmt.Sprintf("203.0.113.%d", i)); code != http.StatusUnauthorized {
			t.Fatalf("client %d behind the proxy: expected 401, got %d", i, code)
		}
	}
	for i := 0; i < 2; i++ {
		refreshFrom(f, "192.0.2.1:4000", "203.0.113.200")
	}
	if code := refreshFrom(f, "192.0.2.1:4000", "203.0.113.200"); code != http.StatusTooManyRequests {
		t.Fatalf("expected one forwarded client to be limited, got %d", code)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, Config{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("authcore_up 1\n"))
	})})

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "authcore_up 1\n" {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}

// A client whose access token expired at T issues a request at T+1; the gate
// refreshes once and the request succeeds without the caller noticing.
func TestClientRenewsExpiredAccessTransparently(t *testing.T) {
	f := newFixture(t, Config{})
	pair := f.login(t, alice)

	gate := client.NewGate(&client.HTTPRefresher{
		URL:    f.server.URL + "/auth/refresh",
		Client: f.server.Client(),
		Header: http.Header{"Origin": {testOrigin}},
	})
	defer gate.Close()
	gate.SetCredentials(client.Pair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	hc := &http.Client{Transport: &client.Transport{Gate: gate, Base: f.server.Client().Transport}}

	f.clock.Advance(11 * time.Second)

	const n = 8
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, f.server.URL+"/courses", nil)
			resp, err := hc.Do(req)
			if err != nil {
				t.Errorf("request failed: %v", err)
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("expected 200 after transparent renewal, got %d", status)
		}
	}
	if gate.Exchanges() != 1 {
		t.Fatalf("expected exactly one refresh exchange, got %d", gate.Exchanges())
	}
	creds, _ := gate.Credentials()
	if creds.RefreshToken == pair.RefreshToken {
		t.Fatal("expected rotated refresh token in the gate")
	}
}

// A deactivated principal's client is signed out at its next refresh.
func TestClientSignedOutAfterDeactivation(t *testing.T) {
	f := newFixture(t, Config{AllowMissingOrigin: true})
	pair := f.login(t, alice)

	signedOut := make(chan error, 1)
	gate := client.NewGate(&client.HTTPRefresher{URL: f.server.URL + "/auth/refresh", Client: f.server.Client()},
		client.WithOnSignOut(func(err error) { signedOut <- err }))
	defer gate.Close()
	gate.SetCredentials(client.Pair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	hc := &http.Client{Transport: &client.Transport{Gate: gate, Base: f.server.Client().Transport}}

	if err := f.engine.DeactivatePrincipal(context.Background(), alice.ID); err != nil {
		t.Fatalf("DeactivatePrincipal failed: %v", err)
	}
	f.clock.Advance(11 * time.Second)

	_, err := hc.Get(f.server.URL + "/courses")
	if err == nil {
		t.Fatal("expected request to fail after deactivation")
	}
	select {
	case err := <-signedOut:
		var re *client.RefreshError
		if !errors.As(err, &re) || re.Kind != string(authcore.KindRevoked) {
			t.Fatalf("expected revoked refresh error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected sign-out")
	}
}
