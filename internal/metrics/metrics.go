// Package metrics defines Prometheus collectors for the object store.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Keys for commit outcomes.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for persist.Database.
var (
	CommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pstore_commits_total",
		Help: "Cumulative number of transaction commits, by outcome.",
	}, []string{"status"})
	AbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pstore_aborts_total",
		Help: "Cumulative number of aborted transactions, including failed commits.",
	})
	CommitDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pstore_commit_duration_seconds",
		Help:    "Time spent writing a commit to the backing store.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	ObjectsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pstore_objects_created_total",
		Help: "Cumulative number of object rows allocated by commits.",
	})
	ObjectsCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pstore_objects_collected_total",
		Help: "Cumulative number of object rows reclaimed by reference counting.",
	})
	ObjectLoadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pstore_object_loads_total",
		Help: "Cumulative number of lazy objects hydrated from the backing store.",
	})
)

// Collectors returns all collectors of this package, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommitsTotal,
		AbortsTotal,
		CommitDurationSeconds,
		ObjectsCreatedTotal,
		ObjectsCollectedTotal,
		ObjectLoadsTotal,
	}
}

// Register registers Collectors with r. Collectors r already holds are
// skipped, so several databases may share one registry.
func Register(r prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
