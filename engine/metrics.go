package engine

import (
	"expvar"
	"fmt"
	"sort"
	"sync"

	"github.com/caio/go-tdigest/v4"
)

// reportedQuantiles are the latency quantiles exposed from the digest.
var reportedQuantiles = []float64{0.5, 0.9, 0.99}

// Metrics holds all expvar variables for a Store.
type Metrics struct {
	PublishedGlobally bool // Indicates if the metrics are published to the global expvar namespace.

	OpenTotal           *expvar.Int
	OpenDurationSeconds *expvar.Float
	IndexEntriesLoaded  *expvar.Int
	IndexTruncatedTotal *expvar.Int
	IndexSkippedTotal   *expvar.Int

	GetTotal             *expvar.Int
	GetNotFoundTotal     *expvar.Int
	GetErrorsTotal       *expvar.Int
	IntegrityErrorsTotal *expvar.Int
	KeyNotFoundTotal     *expvar.Int
	RecordsReadTotal     *expvar.Int
	BytesReadTotal       *expvar.Int
	BytesDecodedTotal    *expvar.Int

	GetLatencyHist *expvar.Map
	getLatency     *latencyHistogram

	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	digestMu sync.Mutex
	digest   *tdigest.TDigest
}

// NewMetrics creates and initializes a new Metrics struct with expvar variables.
// With publishGlobally, variables already published under the same names are
// reset and reused so a reopened store keeps its expvar handles.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(string) *expvar.Int { return new(expvar.Int) }
	newFloat := func(string) *expvar.Float { return new(expvar.Float) }
	newMap := func(string) *expvar.Map { return new(expvar.Map).Init() }
	if publishGlobally {
		newInt = func(name string) *expvar.Int {
			return publishVar(name, new(expvar.Int), func(v *expvar.Int) { v.Set(0) })
		}
		newFloat = func(name string) *expvar.Float {
			return publishVar(name, new(expvar.Float), func(v *expvar.Float) { v.Set(0) })
		}
		newMap = func(name string) *expvar.Map {
			return publishVar(name, new(expvar.Map).Init(), func(v *expvar.Map) { v.Init() })
		}
	}

	m := &Metrics{
		PublishedGlobally:   publishGlobally,
		OpenTotal:           newInt(prefix + "open_total"),
		OpenDurationSeconds: newFloat(prefix + "open_duration_seconds"),
		IndexEntriesLoaded:  newInt(prefix + "index_entries_loaded"),
		IndexTruncatedTotal: newInt(prefix + "index_truncated_total"),
		IndexSkippedTotal:   newInt(prefix + "index_entries_skipped_total"),

		GetTotal:             newInt(prefix + "get_total"),
		GetNotFoundTotal:     newInt(prefix + "get_not_found_total"),
		GetErrorsTotal:       newInt(prefix + "get_errors_total"),
		IntegrityErrorsTotal: newInt(prefix + "integrity_errors_total"),
		KeyNotFoundTotal:     newInt(prefix + "key_not_found_total"),
		RecordsReadTotal:     newInt(prefix + "records_read_total"),
		BytesReadTotal:       newInt(prefix + "bytes_read_total"),
		BytesDecodedTotal:    newInt(prefix + "bytes_decoded_total"),

		GetLatencyHist: newMap(prefix + "get_latency_seconds"),

		CacheHits:   newInt(prefix + "cache_hits"),
		CacheMisses: newInt(prefix + "cache_misses"),
	}
	m.getLatency = newLatencyHistogram(m.GetLatencyHist, getLatencyBounds)

	// tdigest.New only fails on invalid options.
	m.digest, _ = tdigest.New()
	if publishGlobally && expvar.Get(prefix+"get_latency_quantiles") == nil {
		expvar.Publish(prefix+"get_latency_quantiles", expvar.Func(func() any { return m.LatencyQuantiles() }))
	}
	return m
}

// publishVar returns the variable published under name, publishing fresh when
// there is none and calling reset on an existing one. It panics when name is
// taken by a variable of another type.
func publishVar[T expvar.Var](name string, fresh T, reset func(T)) T {
	existing := expvar.Get(name)
	if existing == nil {
		expvar.Publish(name, fresh)
		return fresh
	}
	v, ok := existing.(T)
	if !ok {
		panic(fmt.Sprintf("expvar: %s already published as %T", name, existing))
	}
	reset(v)
	return v
}

// getLatencyBounds are the histogram upper bounds for Get, in seconds.
var getLatencyBounds = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

// latencyHistogram is a cumulative histogram exported through an expvar.Map as
// "count", "sum", "le_<bound>" and "le_inf".
type latencyHistogram struct {
	bounds []float64
	count  *expvar.Int
	sum    *expvar.Float
	le     []*expvar.Int // one per bound, then +Inf
}

func newLatencyHistogram(m *expvar.Map, bounds []float64) *latencyHistogram {
	h := &latencyHistogram{
		bounds: bounds,
		count:  new(expvar.Int),
		sum:    new(expvar.Float),
		le:     make([]*expvar.Int, len(bounds)+1),
	}
	m.Set("count", h.count)
	m.Set("sum", h.sum)
	for i, b := range bounds {
		h.le[i] = new(expvar.Int)
		m.Set(fmt.Sprintf("le_%.3f", b), h.le[i])
	}
	h.le[len(bounds)] = new(expvar.Int)
	m.Set("le_inf", h.le[len(bounds)])
	return h
}

func (h *latencyHistogram) observe(seconds float64) {
	if h == nil {
		return
	}
	h.count.Add(1)
	h.sum.Add(seconds)
	// Bounds ascend, so every bucket from the first fitting one counts it.
	first := sort.SearchFloat64s(h.bounds, seconds)
	for _, c := range h.le[first:] {
		c.Add(1)
	}
}

// observeGet records the latency of one Get in the histogram and the digest.
func (m *Metrics) observeGet(seconds float64) {
	m.getLatency.observe(seconds)
	m.digestMu.Lock()
	defer m.digestMu.Unlock()
	if m.digest != nil {
		_ = m.digest.AddWeighted(seconds, 1)
	}
}

// LatencyQuantile returns the q-quantile of Get latencies in seconds, or 0
// before the first observation.
func (m *Metrics) LatencyQuantile(q float64) float64 {
	m.digestMu.Lock()
	defer m.digestMu.Unlock()
	if m.digest == nil || m.digest.Count() == 0 {
		return 0
	}
	return m.digest.Quantile(q)
}

// LatencyQuantiles returns the reported quantiles keyed "p50", "p90", ...
func (m *Metrics) LatencyQuantiles() map[string]float64 {
	out := make(map[string]float64, len(reportedQuantiles))
	for _, q := range reportedQuantiles {
		out[fmt.Sprintf("p%g", q*100)] = m.LatencyQuantile(q)
	}
	return out
}
