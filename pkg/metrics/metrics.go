package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"finsight/pkg/httpx"
)

// Registry is the in-process counter store. One instance lives for the
// life of the API server; everything is mutex-guarded.
type Registry struct {
	mu             sync.RWMutex
	endpoint       map[string]*EndpointStat
	denyReason     map[string]int64
	gauges         map[string]float64
	analyzeLatency AnalyzeLatencyStat
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// AnalyzeLatencyStat tracks round trips to the external model.
type AnalyzeLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt      string                  `json:"generated_at"`
	Endpoints        map[string]EndpointStat `json:"endpoints"`
	DenyReasons      map[string]int64        `json:"deny_reasons"`
	Gauges           map[string]float64      `json:"gauges"`
	AnalyzeLatencyMS AnalyzeLatencyStat      `json:"analyze_latency_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		denyReason: map[string]int64{},
		gauges:     map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncDenyReason counts authorization denials by reason code
// (ROLE_FORBIDDEN vs OWNERSHIP_DENIED stay separate series).
func (r *Registry) IncDenyReason(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.denyReason[reason]++
	r.mu.Unlock()
}

func (r *Registry) ObserveAnalyzeLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzeLatency.Count++
	r.analyzeLatency.TotalMS += ms
	r.analyzeLatency.LastMS = ms
	if ms > r.analyzeLatency.MaxMS {
		r.analyzeLatency.MaxMS = ms
	}
	r.analyzeLatency.AvgMS = float64(r.analyzeLatency.TotalMS) / float64(r.analyzeLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		Endpoints:        make(map[string]EndpointStat, len(r.endpoint)),
		DenyReasons:      make(map[string]int64, len(r.denyReason)),
		Gauges:           make(map[string]float64, len(r.gauges)),
		AnalyzeLatencyMS: r.analyzeLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.denyReason {
		out.DenyReasons[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Snapshot())
	}
}

// PrometheusHandler renders the snapshot in text exposition format.
func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		var b strings.Builder

		b.WriteString("# TYPE finsight_http_requests_total counter\n")
		for _, path := range sortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[path]
			fmt.Fprintf(&b, "finsight_http_requests_total{path=%q} %d\n", path, stat.Count)
			fmt.Fprintf(&b, "finsight_http_request_errors_total{path=%q} %d\n", path, stat.ErrorCount)
			fmt.Fprintf(&b, "finsight_http_request_duration_ms_avg{path=%q} %.3f\n", path, stat.AverageMillis)
		}

		b.WriteString("# TYPE finsight_authz_denies_total counter\n")
		for _, reason := range sortedKeys(snap.DenyReasons) {
			fmt.Fprintf(&b, "finsight_authz_denies_total{reason=%q} %d\n", reason, snap.DenyReasons[reason])
		}

		b.WriteString("# TYPE finsight_analyze_latency_ms summary\n")
		fmt.Fprintf(&b, "finsight_analyze_requests_total %d\n", snap.AnalyzeLatencyMS.Count)
		fmt.Fprintf(&b, "finsight_analyze_latency_ms_avg %.3f\n", snap.AnalyzeLatencyMS.AvgMS)
		fmt.Fprintf(&b, "finsight_analyze_latency_ms_max %d\n", snap.AnalyzeLatencyMS.MaxMS)

		for _, name := range sortedKeys(snap.Gauges) {
			fmt.Fprintf(&b, "finsight_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
