package observers

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stratahq/strata"
)

// Metrics exports machine activity as Prometheus metrics: transition
// and rejection counters, a rollback counter, and a per-state residence
// histogram measured between entry and exit.
type Metrics[S comparable, E comparable] struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	rollbacks     prometheus.Counter
	errors        prometheus.Counter
	stateDuration *prometheus.HistogramVec

	mu        sync.Mutex
	enteredAt map[S]time.Time
}

// NewMetrics creates a metrics observer registering its collectors with
// reg under the given namespace.
func NewMetrics[S comparable, E comparable](reg prometheus.Registerer, namespace string) *Metrics[S, E] {
	factory := promauto.With(reg)

	return &Metrics[S, E]{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hsm",
			Name:      "transitions_total",
			Help:      "Number of settled state transitions.",
		}, []string{"from", "to", "event"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hsm",
			Name:      "rejections_total",
			Help:      "Number of events rejected before entering a target state.",
		}, []string{"event", "reason"}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hsm",
			Name:      "rollbacks_total",
			Help:      "Number of transitions rolled back by a refused entry.",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hsm",
			Name:      "errors_total",
			Help:      "Number of errors reported during event processing.",
		}),
		stateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hsm",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a state between entry and exit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"state"}),
		enteredAt: make(map[S]time.Time),
	}
}

// OnTransition counts a settled transition
func (o *Metrics[S, E]) OnTransition(from S, to S, event E, args strata.Args) {
	o.transitions.WithLabelValues(fmt.Sprint(from), fmt.Sprint(to), fmt.Sprint(event)).Inc()
}

// OnStateEnter stamps the entry time for the residence histogram
func (o *Metrics[S, E]) OnStateEnter(state S, args strata.Args) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enteredAt[state] = time.Now()
}

// OnStateExit observes the state residence duration
func (o *Metrics[S, E]) OnStateExit(state S) {
	o.mu.Lock()
	enteredAt, ok := o.enteredAt[state]
	if ok {
		delete(o.enteredAt, state)
	}
	o.mu.Unlock()

	if ok {
		o.stateDuration.WithLabelValues(fmt.Sprint(state)).Observe(time.Since(enteredAt).Seconds())
	}
}

// OnGuardEvaluation implements ExtendedObserver
func (o *Metrics[S, E]) OnGuardEvaluation(from S, to S, event E, result bool) {
}

// OnEventRejected counts a failed event
func (o *Metrics[S, E]) OnEventRejected(event E, reason string) {
	o.rejections.WithLabelValues(fmt.Sprint(event), reason).Inc()
}

// OnRollback counts a refused entry
func (o *Metrics[S, E]) OnRollback(state S) {
	o.rollbacks.Inc()
}

// OnError counts a processing error
func (o *Metrics[S, E]) OnError(err error) {
	o.errors.Inc()
}

// OnMachineStarted implements ExtendedObserver
func (o *Metrics[S, E]) OnMachineStarted() {
}

// OnMachineStopped implements ExtendedObserver
func (o *Metrics[S, E]) OnMachineStopped() {
}
