// Package metrics exposes registry and mesh pass figures as Prometheus metrics.
//
// Every Collector registers its own vectors on the Registerer it is given, so tests and
// independent runs never share state:
//
//	reg := prometheus.NewRegistry()
//	c := metrics.NewCollector(reg)
//	c.ObserveRebuild(rank, pass, reg.NodeCount(), reg.Len())
package metrics

import (
	"strconv"
	"time"

	"github.com/notargets/ZMesh/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zmesh"

// Collector holds the pass metrics of every rank
type Collector struct {
	columnsRebuilt    *prometheus.CounterVec   // Columns visited by rebuild passes
	conflicts         *prometheus.CounterVec   // Dof conflicts found while merging
	droppedNodes      *prometheus.CounterVec   // Nodes nobody rediscovered
	staleColumns      *prometheus.CounterVec   // Columns refused as stale
	unresolvedAnchors *prometheus.CounterVec   // Columns refused for unknown anchors
	nodes             *prometheus.GaugeVec     // Nodes held per rank
	columns           *prometheus.GaugeVec     // Columns held per rank
	haloValues        prometheus.Counter       // Ghost values moved between ranks
	passDuration      *prometheus.HistogramVec // Duration of driver stages
}

// NewCollector creates the metric vectors on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		columnsRebuilt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "columns_rebuilt_total",
			Help:      "Columns visited by rebuild passes",
		}, []string{"rank"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "conflicts_total",
			Help:      "Distinct dofs found at the same elevation of a column",
		}, []string{"rank"}),
		droppedNodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dropped_nodes_total",
			Help:      "Nodes removed because no report claimed them again",
		}, []string{"rank"}),
		staleColumns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "stale_columns_total",
			Help:      "Columns refused by an elevation pass as stale",
		}, []string{"rank"}),
		unresolvedAnchors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "unresolved_anchors_total",
			Help:      "Columns refused by an elevation pass for an anchor with unknown owner",
		}, []string{"rank"}),
		nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "nodes",
			Help:      "Nodes held by the registry of a rank",
		}, []string{"rank"}),
		columns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "columns",
			Help:      "Columns held by the registry of a rank",
		}, []string{"rank"}),
		haloValues: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "halo",
			Name:      "values_total",
			Help:      "Ghost elevations copied from their owners",
		}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "stage_duration_seconds",
			Help:      "Duration of driver stages in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"stage"}),
	}
}

// ObserveRebuild records a rebuild pass and the registry size after it
func (c *Collector) ObserveRebuild(rank int, pass *registry.PassReport, nodes, columns int) {
	r := strconv.Itoa(rank)
	c.columnsRebuilt.WithLabelValues(r).Add(float64(pass.Columns))
	c.conflicts.WithLabelValues(r).Add(float64(len(pass.Conflicts)))
	c.droppedNodes.WithLabelValues(r).Add(float64(pass.Dropped))
	c.nodes.WithLabelValues(r).Set(float64(nodes))
	c.columns.WithLabelValues(r).Set(float64(columns))
}

// ObserveElevation records an elevation pass
func (c *Collector) ObserveElevation(rank int, pass *registry.PassReport) {
	r := strconv.Itoa(rank)
	c.staleColumns.WithLabelValues(r).Add(float64(pass.Stale))
	c.unresolvedAnchors.WithLabelValues(r).Add(float64(pass.Anchors))
}

// ObserveHalo records ghost values moved by an exchange
func (c *Collector) ObserveHalo(moved int) {
	c.haloValues.Add(float64(moved))
}

// ObserveStage records how long a driver stage took
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.passDuration.WithLabelValues(stage).Observe(d.Seconds())
}
