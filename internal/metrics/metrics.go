// Package metrics is the process-wide metrics facade. Pipeline code records
// through the Record* helpers; the concrete backend (Datadog or none) is
// chosen once at startup with SetBackend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names understood by backends.
const (
	StepTotal           = "dashetl_step_total"
	StepDuration        = "dashetl_step_duration_seconds"
	FieldsTotal         = "dashetl_fields_total"
	TableRowsTotal      = "dashetl_table_rows_total"
	LoadedRowsTotal     = "dashetl_loaded_rows_total"
	HTTPRequestsTotal   = "dashetl_http_requests_total"
	HTTPErrorsTotal     = "dashetl_http_errors_total"
	HTTPRequestDuration = "dashetl_http_request_duration_seconds"
	HTTPDownloadBytes   = "dashetl_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b for the whole process. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one pipeline step and observes its duration. status is
// "ok" or "error".
func RecordStep(step, status string, dur time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, dur.Seconds(), l)
}

// RecordFields counts located and missing fields of one extraction.
func RecordFields(found, missing int) {
	b := current()
	b.IncCounter(FieldsTotal, float64(found), Labels{"status": "found"})
	b.IncCounter(FieldsTotal, float64(missing), Labels{"status": "missing"})
}

// RecordRows counts rows scraped for a table rule.
func RecordRows(table string, n int) {
	current().IncCounter(TableRowsTotal, float64(n), Labels{"table": table})
}

// RecordLoaded counts rows inserted into a warehouse table.
func RecordLoaded(table string, n int64) {
	current().IncCounter(LoadedRowsTotal, float64(n), Labels{"table": table})
}

// RecordHTTP records one outbound request. status is 0 when no response
// arrived.
func RecordHTTP(status int, err error, dur time.Duration, bytes int64) {
	b := current()
	l := Labels{"status": statusLabel(status)}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status >= 300 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDuration, dur.Seconds(), l)
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

func statusLabel(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status)
}
