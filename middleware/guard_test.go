package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/permission"
	"github.com/coursemart/authcore/session"
)

var (
	student    = authcore.Principal{ID: "u-1", Role: permission.RoleStudent, Active: true}
	instructor = authcore.Principal{ID: "u-2", Role: permission.RoleInstructor, Active: true}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newEngine(t *testing.T, c *clock) *authcore.Engine {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Token.AccessKey = []byte("middleware-access-key-0123456789abcdef")
	cfg.Token.RefreshKey = []byte("middleware-refresh-key-0123456789abcdef")
	cfg.Token.AccessTTL = time.Minute

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(session.NewMemoryStore(session.WithMemoryClock(c.Now))).
		WithPrincipalProvider(authcore.NewMemoryPrincipals(student, instructor)).
		WithClock(c.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func accessToken(t *testing.T, e *authcore.Engine, p authcore.Principal) string {
	t.Helper()
	pair, err := e.IssueSession(context.Background(), p)
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	return pair.AccessToken
}

func decodeKind(t *testing.T, rec *httptest.ResponseRecorder) authcore.ErrorKind {
	t.Helper()
	var body authcore.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Kind
}

func TestRequire(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newEngine(t, c)
	studentToken := accessToken(t, engine, student)
	instructorToken := accessToken(t, engine, instructor)

	var seen *authcore.AuthResult
	handler := Require(engine, permission.CoursePublish)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = authcore.AuthResultFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
		kind   authcore.ErrorKind
	}{
		{"no header", "", http.StatusUnauthorized, authcore.KindMalformed},
		{"not bearer", "Basic abc", http.StatusUnauthorized, authcore.KindMalformed},
		{"garbage", "Bearer nope", http.StatusUnauthorized, authcore.KindMalformed},
		{"student lacks permission", "Bearer " + studentToken, http.StatusForbidden, authcore.KindForbidden},
		{"instructor allowed", "Bearer " + instructorToken, http.StatusNoContent, authcore.KindNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/courses/1/publish", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusNoContent {
				if seen == nil || seen.Subject != instructor.ID {
					t.Fatalf("expected auth result on context, got %+v", seen)
				}
				return
			}
			if got := decodeKind(t, rec); got != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, got)
			}
			if tc.status == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected bearer challenge")
			}
		})
	}
}

func TestRequireAuthenticatedReportsExpiry(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newEngine(t, c)
	token := accessToken(t, engine, student)

	handler := RequireAuthenticated(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c.now = c.now.Add(time.Minute)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeKind(t, rec); got != authcore.KindExpired {
		t.Fatalf("expected kind expired, got %q", got)
	}
}

func TestGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := newEngine(t, c)

	r := gin.New()
	r.POST("/courses/:id/publish", Gin(engine, permission.CoursePublish), func(c *gin.Context) {
		res, ok := GinAuthResult(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		fromCtx, _ := authcore.AuthResultFromContext(c.Request.Context())
		if fromCtx != res {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": res.Subject})
	})

	req := httptest.NewRequest(http.MethodPost, "/courses/1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, engine, student))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if got := decodeKind(t, rec); got != authcore.KindForbidden {
		t.Fatalf("expected kind forbidden, got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/courses/1/publish", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, engine, instructor))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := ClientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "192.0.2.10" {
		t.Fatalf("forwarded header must not override the peer, got %q", got)
	}
}
