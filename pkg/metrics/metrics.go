package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usersync_events_published_total",
			Help: "Events handed to the broker, by queue and result.",
		},
		[]string{"queue", "result"},
	)
	messagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usersync_messages_consumed_total",
			Help: "Deliveries handled by the consumer, by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)
	employeesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usersync_employees_created_total",
			Help: "Employee records derived from user events.",
		},
	)
	duplicatesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usersync_duplicate_events_total",
			Help: "User events skipped because an employee already existed.",
		},
	)
	bootstrapAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usersync_bootstrap_attempts_total",
			Help: "Startup readiness attempts, by result.",
		},
		[]string{"result"},
	)
	brokerReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usersync_broker_reconnects_total",
			Help: "Broker reconnection attempts, by result.",
		},
		[]string{"result"},
	)
	outboxRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usersync_outbox_relayed_total",
			Help: "Outbox rows forwarded to the broker, by result.",
		},
		[]string{"result"},
	)
	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usersync_outbox_pending",
			Help: "Outbox rows not yet forwarded to the broker.",
		},
	)

	registerOnce sync.Once
)

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(eventsPublished, messagesConsumed, employeesCreated, duplicatesSkipped,
			bootstrapAttempts, brokerReconnects, outboxRelayed, outboxPending)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePublish counts one publish attempt to queue.
func ObservePublish(queue string, err error) {
	eventsPublished.WithLabelValues(queue, result(err)).Inc()
}

// ObserveDelivery counts one consumed delivery with its outcome
// (processed, requeued, dropped, dead_lettered or lost).
func ObserveDelivery(queue, outcome string) {
	messagesConsumed.WithLabelValues(queue, outcome).Inc()
}

// IncEmployeeCreated counts an employee record derived from a user event.
func IncEmployeeCreated() {
	employeesCreated.Inc()
}

// IncDuplicateSkipped counts a user event whose employee already existed.
func IncDuplicateSkipped() {
	duplicatesSkipped.Inc()
}

// ObserveBootstrapAttempt counts one startup readiness attempt.
func ObserveBootstrapAttempt(err error) {
	bootstrapAttempts.WithLabelValues(result(err)).Inc()
}

// ObserveReconnect counts one broker redial.
func ObserveReconnect(err error) {
	brokerReconnects.WithLabelValues(result(err)).Inc()
}

// ObserveOutboxRelay counts one outbox row handed to the broker.
func ObserveOutboxRelay(err error) {
	outboxRelayed.WithLabelValues(result(err)).Inc()
}

// SetOutboxPending records the current outbox backlog.
func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
