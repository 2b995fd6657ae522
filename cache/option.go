package cache

import (
	"github.com/benbjohnson/clock"
	"github.com/cyverse/rubbercache/report"
)

type config struct {
	clock        clock.Clock
	reportClient report.CacheReportClient
}

// Option is a function that sets a value in a config
type Option func(*config)

func getOpts(opts []Option) config {
	cfg := config{
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithClock sets the clock used for expiration and access times
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithReportClient sets the client that receives hit, miss and eviction reports
func WithReportClient(reportClient report.CacheReportClient) Option {
	return func(c *config) {
		c.reportClient = reportClient
	}
}
