package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/credmesh/credmesh/internal/build"
)

var (
	resolutionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "resolutions_total",
		Help:      "The total number of delegation resolutions delivered, by mode and outcome.",
	}, []string{"mode", "outcome"})

	resolutionDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "resolution_duration_ms",
		Help:                            "Time between a resolution being started and its result being delivered.",
		Buckets:                         []float64{1, 3, 5, 10, 25, 50, 100, 1000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"mode"})

	resolutionChainLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "resolution_chain_length",
		Help:                            "The number of delegation edges in delivered proof chains.",
		Buckets:                         []float64{1, 2, 3, 5, 8, 13, 21},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	})

	lookupsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "resolution_lookups_total",
		Help:      "The total number of name resolution lookups issued by the resolution engine.",
	})
)

func recordResolutionDelivered(collect bool, res *Resolution, start time.Time) {
	mode := "verify"
	if collect {
		mode = "collect"
	}
	outcome := "not_found"
	if res.Found {
		outcome = "found"
	}

	resolutionsCounter.WithLabelValues(mode, outcome).Inc()
	resolutionDurationHistogram.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
	if res.Found {
		resolutionChainLengthHistogram.Observe(float64(len(res.Chain)))
	}
}
