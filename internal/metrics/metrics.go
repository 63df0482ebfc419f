// Package metrics is the backend-agnostic instrumentation surface of jsonrel.
//
// Core packages call the Record* helpers; the binary decides which Backend
// receives them. The default backend discards everything, so library use and
// tests need no setup.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends match on these.
const (
	StepTotal           = "jsonrel_step_total"
	StepDurationSeconds = "jsonrel_step_duration_seconds"
	RowsTotal           = "jsonrel_rows_total"
	BatchesTotal        = "jsonrel_batches_total"
	HTTPRequestsTotal   = "jsonrel_http_requests_total"
	HTTPErrorsTotal     = "jsonrel_http_errors_total"
	HTTPRequestSeconds  = "jsonrel_http_request_duration_seconds"
	HTTPResponseSeconds = "jsonrel_http_response_duration_seconds"
	HTTPDownloadBytes   = "jsonrel_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
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
func Flush() error { return current().Flush() }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one pipeline step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	b := current()
	l := Labels{"job": job, "step": step, "status": status(err)}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows produced or written for table.
func RecordRows(job, table string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job, "table": table})
}

// RecordBatch counts one write batch.
func RecordBatch(job, table string) {
	current().IncCounter(BatchesTotal, 1, Labels{"job": job, "table": table})
}

// RecordHTTP records one HTTP exchange. statusCode is 0 when no response arrived.
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, size int64) {
	b := current()
	st := "none"
	if statusCode > 0 {
		st = strconv.Itoa(statusCode)
	}
	l := Labels{"job": job, "status": st}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestSeconds, reqDur.Seconds(), l)
	b.ObserveHistogram(HTTPResponseSeconds, respDur.Seconds(), l)
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}
