package http

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

const metricPrefix = "helpdesk_ui_"

var (
	appStartedAtUnix = time.Now().Unix()
	inFlightRequests int64
	metricsMu        sync.Mutex

	httpSeries     = map[seriesKey]*series{}
	dbSeries       = map[seriesKey]*series{}
	externalSeries = map[seriesKey]*series{}
	reportSeries   = map[seriesKey]*series{}
	notifySeries   = map[seriesKey]*series{}
	syncSeries     = map[seriesKey]*series{}
)

// seriesKey holds up to three label values; unused ones stay empty.
type seriesKey struct {
	A, B, C string
}

type series struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

type seriesRow struct {
	Key    seriesKey
	Series series
}

func observe(table map[seriesKey]*series, key seriesKey, durationSeconds float64, err error) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := table[key]
	if !ok {
		row = &series{}
		table[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

// snapshotLocked copies a table sorted by label values.
func snapshotLocked(table map[seriesKey]*series) []seriesRow {
	out := make([]seriesRow, 0, len(table))
	for k, s := range table {
		out = append(out, seriesRow{Key: k, Series: *s})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.A != b.A {
			return a.A < b.A
		}
		if a.B != b.B {
			return a.B < b.B
		}
		return a.C < b.C
	})
	return out
}

func recordHTTPMetric(method, path string, status int, durationSeconds float64) {
	observe(httpSeries, seriesKey{method, path, strconv.Itoa(status)}, durationSeconds, nil)
}

func recordDBQuery(connector, operation string, durationSeconds float64, err error) {
	if connector == "" || operation == "" {
		return
	}
	observe(dbSeries, seriesKey{A: connector, B: operation}, durationSeconds, err)
}

func recordExternalCall(target, operation string, durationSeconds float64, err error) {
	if target == "" || operation == "" {
		return
	}
	observe(externalSeries, seriesKey{A: target, B: operation}, durationSeconds, err)
}

func recordReportView(report, status string, durationSeconds float64) {
	observe(reportSeries, seriesKey{A: report, B: normalizeStatus(status)}, durationSeconds, nil)
}

func recordNotification(sink string, durationSeconds float64, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	observe(notifySeries, seriesKey{A: sink, B: outcome}, durationSeconds, err)
}

func recordSyncRun(status string, durationSeconds float64) {
	observe(syncSeries, seriesKey{A: normalizeStatus(status)}, durationSeconds, nil)
}

// ObserveIntercomCall records one helpdesk API call.
func ObserveIntercomCall(operation string, d time.Duration, err error) {
	recordExternalCall("intercom", operation, d.Seconds(), err)
}

// ObserveReportView records the outcome of one computed dashboard view.
func ObserveReportView(report string, status intercom.Status, d time.Duration) {
	recordReportView(report, string(status), d.Seconds())
}

// ObserveNotification records one alert delivery attempt.
func ObserveNotification(sink string, d time.Duration, err error) {
	recordNotification(sink, d.Seconds(), err)
	recordExternalCall(sink, "notify", d.Seconds(), err)
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return "unknown"
	}
	return status
}

// family describes how one table is exposed.
type family struct {
	name   string
	help   string
	labels []string
	rows   []seriesRow
	errors bool
}

func (f family) labelSet(k seriesKey) string {
	values := []string{k.A, k.B, k.C}
	parts := make([]string, 0, len(f.labels))
	for i, l := range f.labels {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, l, escapeLabel(values[i])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (f family) write(w io.Writer) {
	writeHeader(w, f.name+"_total", f.help, "counter")
	for _, r := range f.rows {
		_, _ = fmt.Fprintf(w, "%s%s_total%s %d\n", metricPrefix, f.name, f.labelSet(r.Key), r.Series.Count)
	}
	writeHeader(w, f.name+"_duration_seconds_sum", f.help+" Duration sum in seconds.", "counter")
	for _, r := range f.rows {
		_, _ = fmt.Fprintf(w, "%s%s_duration_seconds_sum%s %.9f\n", metricPrefix, f.name, f.labelSet(r.Key), r.Series.DurationSecondsSum)
	}
	writeHeader(w, f.name+"_duration_seconds_count", f.help+" Duration observation count.", "counter")
	for _, r := range f.rows {
		_, _ = fmt.Fprintf(w, "%s%s_duration_seconds_count%s %d\n", metricPrefix, f.name, f.labelSet(r.Key), r.Series.Count)
	}
	if !f.errors {
		return
	}
	writeHeader(w, f.name+"_errors_total", f.help+" Errors.", "counter")
	for _, r := range f.rows {
		_, _ = fmt.Fprintf(w, "%s%s_errors_total%s %d\n", metricPrefix, f.name, f.labelSet(r.Key), r.Series.Errors)
	}
}

func writeHeader(w io.Writer, name, help, kind string) {
	_, _ = fmt.Fprintf(w, "# HELP %s%s %s\n", metricPrefix, name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s%s %s\n", metricPrefix, name, kind)
}

func writeGauge(w io.Writer, name, help, kind, value string) {
	writeHeader(w, name, help, kind)
	_, _ = fmt.Fprintf(w, "%s%s %s\n", metricPrefix, name, value)
}

func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricsMu.Lock()
		families := []family{
			{name: "http_requests", help: "HTTP requests handled by this app.", labels: []string{"method", "path", "status"}, rows: snapshotLocked(httpSeries)},
			{name: "db_queries", help: "Database queries by connector/operation.", labels: []string{"connector", "operation"}, rows: snapshotLocked(dbSeries), errors: true},
			{name: "external_calls", help: "Calls to external services by target/operation.", labels: []string{"target", "operation"}, rows: snapshotLocked(externalSeries), errors: true},
			{name: "report_views", help: "Dashboard views computed by report/status.", labels: []string{"report", "status"}, rows: snapshotLocked(reportSeries)},
			{name: "notifications", help: "Alert deliveries by sink/outcome.", labels: []string{"sink", "outcome"}, rows: snapshotLocked(notifySeries), errors: true},
			{name: "sync_runs", help: "Archive sync runs by status.", labels: []string{"status"}, rows: snapshotLocked(syncSeries)},
		}
		metricsMu.Unlock()

		for _, f := range families {
			f.write(w)
		}
		writeGauge(w, "http_in_flight_requests", "In-flight HTTP requests currently served by this app.", "gauge", strconv.FormatInt(atomic.LoadInt64(&inFlightRequests), 10))

		uptime := time.Now().Unix() - appStartedAtUnix
		writeGauge(w, "uptime_seconds", "Process uptime in seconds.", "gauge", strconv.FormatInt(uptime, 10))

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		writeGauge(w, "runtime_goroutines", "Number of goroutines.", "gauge", strconv.Itoa(runtime.NumGoroutine()))
		writeGauge(w, "runtime_memory_alloc_bytes", "Heap allocation bytes.", "gauge", strconv.FormatUint(ms.Alloc, 10))
		writeGauge(w, "runtime_gc_total", "Total GC runs since process start.", "counter", strconv.FormatUint(uint64(ms.NumGC), 10))

		if cpuSec, ok := processCPUSeconds(); ok {
			writeGauge(w, "runtime_cpu_seconds_total", "Total CPU time consumed by this process in seconds.", "counter", fmt.Sprintf("%.6f", cpuSec))
		}
		if stats := processIOStats(); stats != nil {
			writeGauge(w, "runtime_io_read_bytes_total", "Bytes read by this process from storage.", "counter", strconv.FormatUint(stats.ReadBytes, 10))
			writeGauge(w, "runtime_io_write_bytes_total", "Bytes written by this process to storage.", "counter", strconv.FormatUint(stats.WriteBytes, 10))
		}
	})
}

type slowRow struct {
	Labels []string `json:"labels"`
	Count  uint64   `json:"count"`
	Errors uint64   `json:"errors"`
	AvgMS  float64  `json:"avg_ms"`
}

func slowest(rows []seriesRow, n int) []slowRow {
	out := make([]slowRow, 0, len(rows))
	for _, r := range rows {
		avg := 0.0
		if r.Series.Count > 0 {
			avg = r.Series.DurationSecondsSum / float64(r.Series.Count) * 1000.0
		}
		labels := []string{r.Key.A}
		for _, v := range []string{r.Key.B, r.Key.C} {
			if v != "" {
				labels = append(labels, v)
			}
		}
		out = append(out, slowRow{Labels: labels, Count: r.Series.Count, Errors: r.Series.Errors, AvgMS: avg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvgMS > out[j].AvgMS })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sumErrors(rows []seriesRow) uint64 {
	var n uint64
	for _, r := range rows {
		n += r.Series.Errors
	}
	return n
}

func appMetricsSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		metricsMu.Lock()
		httpRows := snapshotLocked(httpSeries)
		externalRows := snapshotLocked(externalSeries)
		reportRows := snapshotLocked(reportSeries)
		notifyRows := snapshotLocked(notifySeries)
		dbRows := snapshotLocked(dbSeries)
		metricsMu.Unlock()

		byStatus := map[string]uint64{}
		for _, r := range reportRows {
			byStatus[r.Key.B] += r.Series.Count
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"generated_at": time.Now().UTC(),
			},
			"data": map[string]any{
				"top_http_slowest_avg_ms":     slowest(httpRows, 5),
				"top_external_slowest_avg_ms": slowest(externalRows, 5),
				"report_views_by_status":      byStatus,
				"errors": map[string]any{
					"db_query_total":      sumErrors(dbRows),
					"external_call_total": sumErrors(externalRows),
					"notification_total":  sumErrors(notifyRows),
				},
			},
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&inFlightRequests, 1)
		defer atomic.AddInt64(&inFlightRequests, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		recordHTTPMetric(r.Method, normalizeMetricPath(r.URL.Path), rec.status, time.Since(start).Seconds())
	})
}

func normalizeMetricPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/conversations/") && strings.HasSuffix(path, "/transcript"):
		return "/api/v1/conversations/{id}/transcript"
	case strings.HasPrefix(path, "/api/v1/"), path == "/", path == "/login", path == "/logout",
		path == "/health", path == "/ready", path == "/metrics":
		return path
	default:
		return "other"
	}
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func processCPUSeconds() (float64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	user := float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/1e6
	sys := float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/1e6
	return user + sys, true
}

type ioStats struct {
	ReadBytes  uint64
	WriteBytes uint64
}

func processIOStats() *ioStats {
	b, err := os.ReadFile("/proc/self/io")
	if err != nil {
		return nil
	}
	out := &ioStats{}
	for _, line := range strings.Split(string(b), "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "read_bytes":
			out.ReadBytes = v
		case "write_bytes":
			out.WriteBytes = v
		}
	}
	return out
}
