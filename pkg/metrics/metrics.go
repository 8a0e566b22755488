// Package metrics exposes a small counter set for the push service.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics counts the work the dispatch engine performs. Counters are
// process-local; an operator scrapes them via the JSON handler.
type Metrics struct {
	batchRuns          atomic.Int64
	dispatched         atomic.Int64
	delivered          atomic.Int64
	failed             atomic.Int64
	liveActivityStarts atomic.Int64
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncBatchRuns()          { m.batchRuns.Add(1) }
func (m *Metrics) IncDispatched()         { m.dispatched.Add(1) }
func (m *Metrics) IncDelivered()          { m.delivered.Add(1) }
func (m *Metrics) IncFailed()             { m.failed.Add(1) }
func (m *Metrics) IncLiveActivityStarts() { m.liveActivityStarts.Add(1) }

// Handler exposes the counters as a small JSON document.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{
			"batch_runs":           m.batchRuns.Load(),
			"dispatched":           m.dispatched.Load(),
			"delivered":            m.delivered.Load(),
			"failed":               m.failed.Load(),
			"live_activity_starts": m.liveActivityStarts.Load(),
		})
	})
}
