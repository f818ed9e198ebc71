// Package metrics exports breeding and monitor counters for prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genepool"

// Collector owns a private registry so several pools can live in one
// process without clashing on the default registerer.
type Collector struct {
	registry *prometheus.Registry

	GenerationsBred   prometheus.Counter
	GenomesPublished  prometheus.Counter
	GenomesDiscarded  *prometheus.CounterVec
	MonitorErrors     *prometheus.CounterVec
	EliteFitnessSum   prometheus.Gauge
	BestFitness       prometheus.Gauge
	CurrentGeneration prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		GenerationsBred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_bred_total",
			Help:      "Generations drained, bred and republished.",
		}),
		GenomesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "genomes_published_total",
			Help:      "Genomes published to the pending queue.",
		}),
		GenomesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "genomes_discarded_total",
			Help:      "Drained deliveries acknowledged without taking part in breeding.",
		}, []string{"reason"}),
		MonitorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_errors_total",
			Help:      "Monitor iterations that ended in an error, by error kind.",
		}, []string{"kind"}),
		EliteFitnessSum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elite_fitness_sum",
			Help:      "Summed fitness of the elite prefix of the last bred generation.",
		}),
		BestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Fitness of the top-ranked genome of the last bred generation.",
		}),
		CurrentGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_generation",
			Help:      "Generation number most recently published.",
		}),
	}
	c.registry.MustRegister(
		c.GenerationsBred,
		c.GenomesPublished,
		c.GenomesDiscarded,
		c.MonitorErrors,
		c.EliteFitnessSum,
		c.BestFitness,
		c.CurrentGeneration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
