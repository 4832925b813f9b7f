// Command refreshstorm drives many concurrent clients past an access token's
// expiry and reports how many refresh exchanges each client gate performed.
// Every gate should perform exactly one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/client"
	"github.com/coursemart/authcore/httpapi"
	"github.com/coursemart/authcore/middleware"
	"github.com/coursemart/authcore/permission"
)

// skewClock lets the tool jump the server past the access TTL.
type skewClock struct {
	offset atomic.Int64
}

func (c *skewClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *skewClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

type options struct {
	gates     int
	clients   int
	accessTTL time.Duration
	redisAddr string
	prefix    string
}

type report struct {
	requests  int
	failures  int64
	exchanges uint64
	refreshes uint64
	reused    uint64
	latencies []time.Duration
	total     time.Duration
}

func main() {
	var opts options
	flag.IntVar(&opts.gates, "gates", 50, "number of client processes, each with its own gate and session")
	flag.IntVar(&opts.clients, "clients", 64, "concurrent requests per gate racing the expiry")
	flag.DurationVar(&opts.accessTTL, "access-ttl", time.Minute, "access token lifetime")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.StringVar(&opts.prefix, "prefix", "storm", "revocation store key prefix")
	flag.Parse()

	if opts.gates <= 0 || opts.clients <= 0 || opts.accessTTL <= 0 {
		fmt.Fprintln(os.Stderr, "gates, clients, and access-ttl must be > 0")
		os.Exit(2)
	}

	rep, err := run(context.Background(), opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refreshstorm: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, opts, rep)
	if rep.exchanges != uint64(opts.gates) || rep.failures > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) (report, error) {
	gin.SetMode(gin.ReleaseMode)

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return report{}, fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer rdb.Close()

	clock := &skewClock{}
	principals := authcore.NewMemoryPrincipals()
	cfg := authcore.DefaultConfig()
	cfg.Token.AccessTTL = opts.accessTTL
	cfg.Token.RefreshTTL = opts.accessTTL * 100
	cfg.Token.AccessKey = []byte("refreshstorm-access-key-0123456789")
	cfg.Token.RefreshKey = []byte("refreshstorm-refresh-key-012345678")
	cfg.Session.RedisPrefix = opts.prefix
	cfg.Metrics.Enabled = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalProvider(principals).
		WithClock(clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		return report{}, fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	router := httpapi.NewRouter(engine, principals, httpapi.Config{AllowMissingOrigin: true}, nil)
	router.GET("/courses", middleware.Gin(engine, permission.CourseRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return report{}, fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: router}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()
	base := "http://" + ln.Addr().String()

	gates := make([]*client.Gate, opts.gates)
	for i := range gates {
		p := authcore.Principal{ID: fmt.Sprintf("student-%d", i), Role: permission.RoleStudent, Active: true}
		principals.Put(p)
		pair, err := engine.IssueSession(ctx, p)
		if err != nil {
			return report{}, fmt.Errorf("issue session: %w", err)
		}
		g := client.NewGate(&client.HTTPRefresher{URL: base + "/auth/refresh"}, client.WithTimeout(10*time.Second))
		g.SetCredentials(client.Pair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
		defer g.Close()
		gates[i] = g
	}

	clock.Advance(opts.accessTTL + time.Second)
	fmt.Fprintf(out, "racing %d gates x %d requests past expiry...\n", opts.gates, opts.clients)

	var (
		rep report
		mu  sync.Mutex
	)
	start := time.Now()
	eg, egctx := errgroup.WithContext(ctx)
	for _, g := range gates {
		httpClient := &http.Client{Transport: &client.Transport{Gate: g}}
		for range opts.clients {
			eg.Go(func() error {
				t0 := time.Now()
				err := fetch(egctx, httpClient, base+"/courses")
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&rep.failures, 1)
				}
				mu.Lock()
				rep.latencies = append(rep.latencies, d)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return report{}, err
	}
	rep.total = time.Since(start)
	rep.requests = len(rep.latencies)

	for _, g := range gates {
		rep.exchanges += g.Exchanges()
	}
	snap := engine.MetricsSnapshot()
	rep.refreshes = snap.Counters[authcore.MetricRefreshSuccess]
	rep.reused = snap.Counters[authcore.MetricRefreshReuseDetected]
	return rep, nil
}

func fetch(ctx context.Context, c *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.New(resp.Status)
	}
	return nil
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printReport(w io.Writer, opts options, r report) {
	sort.Slice(r.latencies, func(i, j int) bool { return r.latencies[i] < r.latencies[j] })
	fmt.Fprintln(w, "---- results ----")
	fmt.Fprintf(w, "requests=%d failures=%d total=%s\n", r.requests, r.failures, r.total.Round(time.Millisecond))
	fmt.Fprintf(w, "client exchanges=%d (want %d) server refreshes=%d reuse detected=%d\n",
		r.exchanges, opts.gates, r.refreshes, r.reused)
	fmt.Fprintf(w, "p50=%s p95=%s p99=%s\n",
		percentile(r.latencies, 50).Round(time.Microsecond),
		percentile(r.latencies, 95).Round(time.Microsecond),
		percentile(r.latencies, 99).Round(time.Microsecond),
	)
}
