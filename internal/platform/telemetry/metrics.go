// Package telemetry keeps in-process metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// DurationBuckets are the HTTP request duration bucket bounds in seconds.
var DurationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// CounterVec
// ---------------------------------------------------------------------------

// CounterVec is a counter partitioned by a fixed set of label names.
type CounterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.RWMutex
	values map[string]*int64
}

// Inc adds one to the series with the given label values, in the order the
// label names were registered. Missing values are recorded as "".
func (c *CounterVec) Inc(labelValues ...string) {
	key := c.key(labelValues)

	c.mu.RLock()
	p, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}

	c.mu.Lock()
	p, ok = c.values[key]
	if !ok {
		var v int64
		p = &v
		c.values[key] = p
	}
	c.mu.Unlock()
	atomic.AddInt64(p, 1)
}

// Value returns the current count of one series.
func (c *CounterVec) Value(labelValues ...string) int64 {
	c.mu.RLock()
	p, ok := c.values[c.key(labelValues)]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (c *CounterVec) key(values []string) string {
	parts := make([]string, len(c.labels))
	copy(parts, values)
	return strings.Join(parts, "\x1f")
}

func (c *CounterVec) snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.values))
	for k, p := range c.values {
		out[k] = atomic.LoadInt64(p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds the process metrics. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	namespace string

	mu       sync.RWMutex
	counters []*CounterVec
	byName   map[string]*CounterVec

	requests       sync.Map // labels key -> *histogram
	activeRequests int64
}

// NewRegistry creates a registry. namespace prefixes every metric name.
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, byName: make(map[string]*CounterVec)}
}

// Counter registers a counter, or returns the one already registered under
// name.
func (r *Registry) Counter(name, help string, labelNames ...string) *CounterVec {
	full := r.metricName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[full]; ok {
		return c
	}
	c := &CounterVec{name: full, help: help, labels: labelNames, values: make(map[string]*int64)}
	r.byName[full] = c
	r.counters = append(r.counters, c)
	return c
}

func (r *Registry) metricName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// requestKey joins method, route and status for the duration histogram.
func requestKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// RequestCount returns how many requests were observed for one route.
func (r *Registry) RequestCount(method, route string, status int) int64 {
	v, ok := r.requests.Load(requestKey(method, route, strconv.Itoa(status)))
	if !ok {
		return 0
	}
	return v.(*histogram).Count()
}

// Middleware records request duration by method, route pattern and status.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&r.activeRequests, 1)
			defer atomic.AddInt64(&r.activeRequests, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := requestKey(c.Request().Method, route, strconv.Itoa(c.Response().Status))
			v, _ := r.requests.LoadOrStore(key, newHistogram(DurationBuckets))
			v.(*histogram).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves all metrics in the Prometheus text format.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		r.writeRequests(&b)

		active := r.metricName("http_server_active_requests")
		fmt.Fprintf(&b, "# HELP %s Number of in-flight HTTP requests.\n", active)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", active)
		fmt.Fprintf(&b, "%s %d\n\n", active, atomic.LoadInt64(&r.activeRequests))

		r.mu.RLock()
		counters := make([]*CounterVec, len(r.counters))
		copy(counters, r.counters)
		r.mu.RUnlock()
		for _, cv := range counters {
			writeCounter(&b, cv)
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (r *Registry) writeRequests(b *strings.Builder) {
	name := r.metricName("http_server_request_duration_seconds")
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	var keys []string
	r.requests.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		v, _ := r.requests.Load(key)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, name, labels, v.(*histogram))
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, bound := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func writeCounter(b *strings.Builder, cv *CounterVec) {
	fmt.Fprintf(b, "# HELP %s %s\n", cv.name, cv.help)
	fmt.Fprintf(b, "# TYPE %s counter\n", cv.name)

	snap := cv.snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if len(cv.labels) == 0 {
			fmt.Fprintf(b, "%s %d\n", cv.name, snap[key])
			continue
		}
		values := strings.Split(key, "\x1f")
		pairs := make([]string, len(cv.labels))
		for i, l := range cv.labels {
			pairs[i] = fmt.Sprintf("%s=%q", l, values[i])
		}
		fmt.Fprintf(b, "%s{%s} %d\n", cv.name, strings.Join(pairs, ","), snap[key])
	}
	b.WriteByte('\n')
}
