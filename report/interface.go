package report

import "io"

// CacheReportClient is a client interface to report cache and fill statistics
type CacheReportClient interface {
	Release()

	CacheHit(key string)
	CacheMiss(key string)
	CacheEvict(key string, size int64)
	CacheExpire(key string, size int64)
	CacheSize(size int64, items int)

	RubberSize(netto int64, brutto int64)

	FillStart(key string, expectedSize int64)
	FillDone(key string, outcome string, size int64)
	ServeDirect(key string, reason string)

	GetStats() *Stats
	WriteOnce(writer io.Writer)
}

// Stats is a snapshot of reported statistics
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64

	CacheSize  int64
	CacheItems int64

	RubberNettoSize  int64
	RubberBruttoSize int64

	FillsStarted int64
	FillOutcomes map[string]int64
	DirectServes int64
}
