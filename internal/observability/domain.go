package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain holds the business collectors for numbering, exchange rates and manufacturing.
// A nil *Domain is a valid no-op recorder.
type Domain struct {
	allocations *prometheus.CounterVec
	rollovers   *prometheus.CounterVec
	fxLookups   *prometheus.CounterVec
	fxFallbacks *prometheus.CounterVec
	processes   *prometheus.CounterVec
}

// NewDomain registers the business collectors against registerer.
func NewDomain(registerer prometheus.Registerer) *Domain {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	d := &Domain{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_numbering_allocations_total",
			Help: "Document numbers issued per document type.",
		}, []string{"type"}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_numbering_rollovers_total",
			Help: "Books opened because the previous one was full or the year changed.",
		}, []string{"type"}),
		fxLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_fx_lookups_total",
			Help: "Exchange rate lookups by source.",
		}, []string{"source"}),
		fxFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_fx_fallbacks_total",
			Help: "Exchange rate lookups that fell back to 1.0.",
		}, []string{"currency"}),
		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_manufacturing_transitions_total",
			Help: "Manufacturing process state transitions by target state.",
		}, []string{"state"}),
	}
	registerer.MustRegister(d.allocations, d.rollovers, d.fxLookups, d.fxFallbacks, d.processes)
	return d
}

// RecordAllocation counts an issued document number.
func (d *Domain) RecordAllocation(docType string, rollover bool) {
	if d == nil {
		return
	}
	d.allocations.WithLabelValues(docType).Inc()
	if rollover {
		d.rollovers.WithLabelValues(docType).Inc()
	}
}

// RecordFXLookup counts a rate lookup.
func (d *Domain) RecordFXLookup(source string) {
	if d == nil {
		return
	}
	d.fxLookups.WithLabelValues(source).Inc()
}

// RecordFXFallback counts a lookup answered with the 1.0 fallback.
func (d *Domain) RecordFXFallback(currency string) {
	if d == nil {
		return
	}
	if currency == "" {
		currency = "unknown"
	}
	d.fxFallbacks.WithLabelValues(strings.ToUpper(currency)).Inc()
}

// RecordProcessTransition counts a manufacturing state change.
func (d *Domain) RecordProcessTransition(state string) {
	if d == nil {
		return
	}
	d.processes.WithLabelValues(state).Inc()
}
