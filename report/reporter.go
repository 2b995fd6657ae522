package report

import (
	"io"
	"strings"
	"sync"

	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

const (
	metricCacheHit     string = "cache.hit"
	metricCacheMiss    string = "cache.miss"
	metricCacheEvict   string = "cache.evict"
	metricCacheExpire  string = "cache.expire"
	metricCacheSize    string = "cache.size"
	metricCacheItems   string = "cache.items"
	metricRubberNetto  string = "rubber.netto"
	metricRubberBrutto string = "rubber.brutto"
	metricFillStart    string = "fill.start"
	metricFillPrefix   string = "fill.outcome."
	metricServeDirect  string = "fill.direct"
)

// MetricsReporter reports statistics to a go-metrics registry
// implements CacheReportClient
type MetricsReporter struct {
	registry metrics.Registry

	hits        metrics.Counter
	misses      metrics.Counter
	evictions   metrics.Counter
	expirations metrics.Counter
	fillStarts  metrics.Counter
	directs     metrics.Counter

	cacheSize    metrics.Gauge
	cacheItems   metrics.Gauge
	rubberNetto  metrics.Gauge
	rubberBrutto metrics.Gauge

	fillOutcomes map[string]metrics.Counter
	mutex        sync.Mutex // lock for fillOutcomes
}

// NewMetricsReporter creates a new MetricsReporter
// a new registry is created if the given registry is nil
func NewMetricsReporter(registry metrics.Registry) CacheReportClient {
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	return &MetricsReporter{
		registry: registry,

		hits:        metrics.NewRegisteredCounter(metricCacheHit, registry),
		misses:      metrics.NewRegisteredCounter(metricCacheMiss, registry),
		evictions:   metrics.NewRegisteredCounter(metricCacheEvict, registry),
		expirations: metrics.NewRegisteredCounter(metricCacheExpire, registry),
		fillStarts:  metrics.NewRegisteredCounter(metricFillStart, registry),
		directs:     metrics.NewRegisteredCounter(metricServeDirect, registry),

		cacheSize:    metrics.NewRegisteredGauge(metricCacheSize, registry),
		cacheItems:   metrics.NewRegisteredGauge(metricCacheItems, registry),
		rubberNetto:  metrics.NewRegisteredGauge(metricRubberNetto, registry),
		rubberBrutto: metrics.NewRegisteredGauge(metricRubberBrutto, registry),

		fillOutcomes: map[string]metrics.Counter{},
	}
}

// Release releases resources used
func (reporter *MetricsReporter) Release() {
	reporter.registry.UnregisterAll()
}

// GetRegistry returns the underlying registry
func (reporter *MetricsReporter) GetRegistry() metrics.Registry {
	return reporter.registry
}

// CacheHit reports a cache hit
func (reporter *MetricsReporter) CacheHit(key string) {
	reporter.hits.Inc(1)
}

// CacheMiss reports a cache miss
func (reporter *MetricsReporter) CacheMiss(key string) {
	reporter.misses.Inc(1)
}

// CacheEvict reports an item evicted for capacity or removed explicitly
func (reporter *MetricsReporter) CacheEvict(key string, size int64) {
	reporter.evictions.Inc(1)
}

// CacheExpire reports an item dropped because it expired or failed validation
func (reporter *MetricsReporter) CacheExpire(key string, size int64) {
	reporter.expirations.Inc(1)
}

// CacheSize reports the current accounted cache size
func (reporter *MetricsReporter) CacheSize(size int64, items int) {
	reporter.cacheSize.Update(size)
	reporter.cacheItems.Update(int64(items))
}

// RubberSize reports the current arena sizes
func (reporter *MetricsReporter) RubberSize(netto int64, brutto int64) {
	reporter.rubberNetto.Update(netto)
	reporter.rubberBrutto.Update(brutto)
}

// FillStart reports the start of a background fill
func (reporter *MetricsReporter) FillStart(key string, expectedSize int64) {
	reporter.fillStarts.Inc(1)
}

// FillDone reports the terminal outcome of a background fill
func (reporter *MetricsReporter) FillDone(key string, outcome string, size int64) {
	logger := log.WithFields(log.Fields{
		"package":  "report",
		"struct":   "MetricsReporter",
		"function": "FillDone",
	})

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	counter, ok := reporter.fillOutcomes[outcome]
	if !ok {
		counter = metrics.GetOrRegisterCounter(metricFillPrefix+outcome, reporter.registry)
		reporter.fillOutcomes[outcome] = counter
	}

	counter.Inc(1)
	logger.Debugf("fill for %s finished with %s, %d bytes", key, outcome, size)
}

// ServeDirect reports a miss served without caching
func (reporter *MetricsReporter) ServeDirect(key string, reason string) {
	reporter.directs.Inc(1)
}

// GetStats returns a snapshot of all statistics
func (reporter *MetricsReporter) GetStats() *Stats {
	stats := &Stats{
		Hits:        reporter.hits.Count(),
		Misses:      reporter.misses.Count(),
		Evictions:   reporter.evictions.Count(),
		Expirations: reporter.expirations.Count(),

		CacheSize:  reporter.cacheSize.Value(),
		CacheItems: reporter.cacheItems.Value(),

		RubberNettoSize:  reporter.rubberNetto.Value(),
		RubberBruttoSize: reporter.rubberBrutto.Value(),

		FillsStarted: reporter.fillStarts.Count(),
		FillOutcomes: map[string]int64{},
		DirectServes: reporter.directs.Count(),
	}

	reporter.registry.Each(func(name string, metric interface{}) {
		if !strings.HasPrefix(name, metricFillPrefix) {
			return
		}

		if counter, ok := metric.(metrics.Counter); ok {
			stats.FillOutcomes[strings.TrimPrefix(name, metricFillPrefix)] = counter.Count()
		}
	})

	return stats
}

// WriteOnce writes all metrics in text form
func (reporter *MetricsReporter) WriteOnce(writer io.Writer) {
	metrics.WriteOnce(reporter.registry, writer)
}
