// Package telemetry provides request metrics for the hospital backend using
// standard library constructs: counters, gauges, duration histograms, and a
// Prometheus text exposition endpoint.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config holds telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil = enabled
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "vitasage-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// defaultDurationBuckets are the histogram boundaries (in seconds) for HTTP
// request duration.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// histogram is a thread-safe histogram. Bucket counts are stored
// non-cumulative; cumulative counts are computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64     // math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Beyond all boundaries, counted only in +Inf at export.
	h.mu.Unlock()
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := int64(1)
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Provider manages all observability state for the server.
type Provider struct {
	cfg Config

	durationHist   *histogram
	activeRequests int64
	counters       *counterStore

	shutdownOnce sync.Once
	done         chan struct{}
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:          cfg,
		durationHist: newHistogram(defaultDurationBuckets),
		counters:     newCounterStore(),
		done:         make(chan struct{}),
	}
}

// Shutdown gracefully shuts down the provider.
func (p *Provider) Shutdown(_ context.Context) error {
	p.shutdownOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Resource returns the service identification attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// DoseEvent increments the dose event counter for an outcome: taken, missed,
// or already_logged.
func (p *Provider) DoseEvent(outcome string) {
	p.counters.inc("meds.dose.events|" + outcome)
}

// ReminderCreated increments the reminder creation counter.
func (p *Provider) ReminderCreated() {
	p.counters.inc("meds.reminders.created|total")
}

// GetCounter returns a counter value by metric name and label.
func (p *Provider) GetCounter(name, label string) int64 {
	return p.counters.get(name + "|" + label)
}

// ActiveRequests returns the number of in-flight HTTP requests.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.activeRequests)
}

// RequestCount returns the total number of observed HTTP requests.
func (p *Provider) RequestCount() int64 {
	return p.durationHist.Count()
}

// MetricsMiddleware records HTTP server metrics for every request.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			atomic.AddInt64(&p.activeRequests, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.activeRequests, -1)
			p.durationHist.Observe(time.Since(start).Seconds())

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.counters.inc(fmt.Sprintf("http.server.requests|%s %s %d",
				c.Request().Method, route, c.Response().Status))

			return err
		}
	}
}

// PrometheusHandler serves metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		cum := p.durationHist.cumulativeBuckets()
		for i, boundary := range defaultDurationBuckets {
			fmt.Fprintf(&b, "http_server_request_duration_seconds_bucket{le=\"%g\"} %d\n", boundary, cum[i])
		}
		fmt.Fprintf(&b, "http_server_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", p.durationHist.Count())
		fmt.Fprintf(&b, "http_server_request_duration_seconds_sum %g\n", p.durationHist.Sum())
		fmt.Fprintf(&b, "http_server_request_duration_seconds_count %d\n", p.durationHist.Count())
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n", p.ActiveRequests())
		b.WriteByte('\n')

		counters := p.counters.snapshot()

		b.WriteString("# HELP http_server_requests_total Total HTTP requests by method, route, and status.\n")
		b.WriteString("# TYPE http_server_requests_total counter\n")
		for key, val := range counters {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) != 2 || parts[0] != "http.server.requests" {
				continue
			}
			fields := strings.SplitN(parts[1], " ", 3)
			if len(fields) != 3 {
				continue
			}
			fmt.Fprintf(&b, "http_server_requests_total{method=%q,route=%q,status=%q} %d\n",
				fields[0], fields[1], fields[2], val)
		}
		b.WriteByte('\n')

		b.WriteString("# HELP meds_dose_events_total Dose log events by outcome.\n")
		b.WriteString("# TYPE meds_dose_events_total counter\n")
		for key, val := range counters {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) == 2 && parts[0] == "meds.dose.events" {
				fmt.Fprintf(&b, "meds_dose_events_total{outcome=%q} %d\n", parts[1], val)
			}
		}
		b.WriteByte('\n')

		b.WriteString("# HELP meds_reminders_created_total Total medication reminders created.\n")
		b.WriteString("# TYPE meds_reminders_created_total counter\n")
		fmt.Fprintf(&b, "meds_reminders_created_total %d\n", p.counters.get("meds.reminders.created|total"))

		return c.String(http.StatusOK, b.String())
	}
}
