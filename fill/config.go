package fill

import (
	"time"

	"github.com/cyverse/rubbercache/rubber"
	"golang.org/x/xerrors"
)

const (
	// DefaultCapacity is the arena size
	DefaultCapacity int = 64 * 1024 * 1024
	// DefaultMaxSize is the largest body that is filled
	DefaultMaxSize int64 = 8 * 1024 * 1024
	// DefaultTimeout bounds how long a fill may hold its allocation
	DefaultTimeout time.Duration = 60 * time.Second
	// DefaultTTL is the lifetime of a committed item
	DefaultTTL time.Duration = 60 * time.Second
	// DefaultCleanupInterval is the period of the expiry sweep
	DefaultCleanupInterval time.Duration = 60 * time.Second
	// DefaultCompressInterval is the period of arena compaction
	DefaultCompressInterval time.Duration = 10 * time.Minute
)

// Config holds the parameters of a Store
type Config struct {
	Capacity         int           `yaml:"capacity"`
	MaxObjects       int           `yaml:"max_objects"`
	MaxSize          int64         `yaml:"max_size"`
	Timeout          time.Duration `yaml:"timeout"`
	TTL              time.Duration `yaml:"ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	CompressInterval time.Duration `yaml:"compress_interval"`
	AllowUnknownSize bool          `yaml:"allow_unknown_size"`
}

// NewDefaultConfig creates a default Config
func NewDefaultConfig() *Config {
	return &Config{
		Capacity:         DefaultCapacity,
		MaxObjects:       0,
		MaxSize:          DefaultMaxSize,
		Timeout:          DefaultTimeout,
		TTL:              DefaultTTL,
		CleanupInterval:  DefaultCleanupInterval,
		CompressInterval: DefaultCompressInterval,
		AllowUnknownSize: false,
	}
}

// GetRubberConfig returns the arena config, the object limit is derived if not set
func (config *Config) GetRubberConfig() *rubber.Config {
	rubberConfig := rubber.NewDefaultConfig(config.Capacity)
	if config.MaxObjects > 0 {
		rubberConfig.MaxObjects = config.MaxObjects
	}
	return rubberConfig
}

// GetCacheSize returns the cache budget, the rest of the arena is left for fills in flight
func (config *Config) GetCacheSize() int64 {
	return int64(config.Capacity) / 8 * 7
}

// Validate validates the config
func (config *Config) Validate() error {
	err := config.GetRubberConfig().Validate()
	if err != nil {
		return xerrors.Errorf("invalid arena config: %w", err)
	}

	if config.MaxSize <= 0 {
		return xerrors.Errorf("invalid max size %d", config.MaxSize)
	}

	if config.MaxSize > config.GetCacheSize() {
		return xerrors.Errorf("max size %d exceeds cache size %d", config.MaxSize, config.GetCacheSize())
	}

	if config.Timeout <= 0 {
		return xerrors.Errorf("invalid fill timeout %v", config.Timeout)
	}

	if config.TTL <= 0 {
		return xerrors.Errorf("invalid ttl %v", config.TTL)
	}

	if config.CleanupInterval < 0 || config.CompressInterval < 0 {
		return xerrors.Errorf("invalid cleanup interval %v or compress interval %v", config.CleanupInterval, config.CompressInterval)
	}
	return nil
}
