package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scribefix/internal/observe"
)

// Status values reported to metrics for each call.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusUnavailable = "unavailable"
	statusCached      = "cached"
)

// defaultCachePrefix namespaces cache keys when no prefix is configured.
const defaultCachePrefix = "scribefix:tool:"

// Dispatcher routes tool requests to registered tools. It never returns an
// error: every failure mode is folded into the [Result].
//
// The zero value is NOT usable; create instances with [NewDispatcher]. All
// methods are safe for concurrent use.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	stats map[string]*rollingWindow

	cache       Cache
	cachePrefix string
	metrics     *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithCache enables result caching for tools that declare a CacheTTL.
func WithCache(c Cache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithCachePrefix overrides the cache key prefix.
func WithCachePrefix(prefix string) Option {
	return func(d *Dispatcher) { d.cachePrefix = prefix }
}

// WithMetrics records tool calls to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:       make(map[string]Tool),
		stats:       make(map[string]*rollingWindow),
		cachePrefix: defaultCachePrefix,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds t to the dispatcher. A tool registered under an existing name
// replaces the earlier one and keeps its position in [Dispatcher.Specs], so
// external tools can override built-ins.
func (d *Dispatcher) Register(t Tool) error {
	if t == nil {
		return errors.New("tools: register: nil tool")
	}
	name := t.Spec().Name
	if name == "" {
		return errors.New("tools: register: tool must have a non-empty name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[name]; exists {
		slog.Debug("tool overridden", "tool", name)
	} else {
		d.order = append(d.order, name)
		d.stats[name] = newRollingWindow(defaultWindowSize)
	}
	d.tools[name] = t
	return nil
}

// Specs returns the specs of all registered tools in registration order.
func (d *Dispatcher) Specs() []Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	specs := make([]Spec, 0, len(d.order))
	for _, name := range d.order {
		specs = append(specs, d.tools[name].Spec())
	}
	return specs
}

// Has reports whether a tool named name is registered.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tools[name]
	return ok
}

// ExecuteAll runs reqs sequentially in request order and returns one result
// per request.
func (d *Dispatcher) ExecuteAll(ctx context.Context, reqs []Request, tc Context) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, d.Execute(ctx, req, tc))
	}
	return results
}

// Execute runs a single request.
//
// Unknown tools and tools failing with [ErrUnavailable] produce an
// unavailable result. A tool exceeding its Spec.MaxDuration produces an error
// result. Panics inside a tool are recovered and reported as errors.
func (d *Dispatcher) Execute(ctx context.Context, req Request, tc Context) Result {
	start := time.Now()
	res := Result{Tool: req.Tool, Params: req.Params}

	d.mu.RLock()
	t, ok := d.tools[req.Tool]
	window := d.stats[req.Tool]
	d.mu.RUnlock()

	if !ok {
		res.Unavailable = true
		res.Error = "unknown tool"
		d.metrics.RecordToolCall(ctx, req.Tool, statusUnavailable, 0)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	spec := t.Spec()
	var key string
	if d.cache != nil && spec.CacheTTL > 0 {
		key = d.cacheKey(req, tc)
		summary, hit, err := d.cache.Get(ctx, key)
		switch {
		case err != nil:
			slog.Warn("tool cache lookup failed", "tool", req.Tool, "err", err)
		case hit:
			res.Summary = summary
			res.Cached = true
			res.Duration = time.Since(start)
			d.metrics.RecordToolCall(ctx, req.Tool, statusCached, res.Duration)
			return res
		}
	}

	tctx := ctx
	if spec.MaxDuration > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, spec.MaxDuration)
		defer cancel()
	}

	summary, err := safeExecute(tctx, t, req.Params, tc)
	res.Duration = time.Since(start)

	status := statusOK
	switch {
	case errors.Is(err, ErrUnavailable):
		res.Unavailable = true
		res.Error = err.Error()
		status = statusUnavailable
	case err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded):
		res.Error = fmt.Sprintf("timed out after %s", spec.MaxDuration)
		status = statusError
	case err != nil:
		res.Error = err.Error()
		status = statusError
	default:
		res.Summary = strings.TrimSpace(summary)
		if res.Summary == "" {
			res.Summary = "no result"
		}
	}

	if window != nil {
		window.Record(res.Duration.Milliseconds(), status == statusError)
	}
	d.metrics.RecordToolCall(ctx, req.Tool, status, res.Duration)

	if status == statusError {
		slog.Debug("tool failed", "tool", req.Tool, "err", res.Error, "duration", res.Duration)
	}

	if key != "" && status == statusOK {
		if err := d.cache.Set(ctx, key, res.Summary, spec.CacheTTL); err != nil {
			slog.Warn("tool cache store failed", "tool", req.Tool, "err", err)
		}
	}
	return res
}

// safeExecute calls t.Execute and converts a panic into an error.
func safeExecute(ctx context.Context, t Tool, params map[string]any, tc Context) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Execute(ctx, params, tc)
}

// cacheKey derives a stable key from the tool name, its params and the file.
// encoding/json sorts map keys, so equal params hash equally.
func (d *Dispatcher) cacheKey(req Request, tc Context) string {
	params, _ := json.Marshal(req.Params)
	h := sha256.New()
	h.Write([]byte(req.Tool))
	h.Write([]byte{0})
	h.Write(params)
	h.Write([]byte{0})
	h.Write([]byte(tc.FileID))
	return d.cachePrefix + req.Tool + ":" + hex.EncodeToString(h.Sum(nil))
}

// Stats captures the observed performance of one tool.
type Stats struct {
	Name      string  `json:"name"`
	Calls     int     `json:"calls"`
	P50Ms     int64   `json:"p50Ms"`
	P99Ms     int64   `json:"p99Ms"`
	ErrorRate float64 `json:"errorRate"`
}

// Stats returns per-tool call statistics in registration order. Cache hits
// and unknown-tool requests are not counted.
func (d *Dispatcher) Stats() []Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Stats, 0, len(d.order))
	for _, name := range d.order {
		w := d.stats[name]
		out = append(out, Stats{
			Name:      name,
			Calls:     w.Count(),
			P50Ms:     w.P50(),
			P99Ms:     w.P99(),
			ErrorRate: w.ErrorRate(),
		})
	}
	return out
}
