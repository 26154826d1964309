package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

var (
	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "familytree_graph_tx_duration_seconds",
		Help:    "Duration of graph transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode", "op"})

	txErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "familytree_graph_tx_errors_total",
		Help: "Graph transactions that returned an error, by error code",
	}, []string{"mode", "op", "code"})
)

func observeTx(mode neo4j.AccessMode, op string, elapsed time.Duration, err error) {
	m := "write"
	if mode == neo4j.AccessModeRead {
		m = "read"
	}
	txDuration.WithLabelValues(m, op).Observe(elapsed.Seconds())
	if err != nil {
		code := string(apperrors.CodeOf(err))
		if code == "" {
			code = "driver"
		}
		txErrors.WithLabelValues(m, op, code).Inc()
	}
}
