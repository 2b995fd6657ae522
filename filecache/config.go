package filecache

import (
	"github.com/cyverse/rubbercache/fill"
	"github.com/cyverse/rubbercache/irods"
	"golang.org/x/xerrors"
)

// Config holds the file cache parameters
type Config struct {
	fill.Config `yaml:",inline"`

	// BlockSize is the size of one remote read
	BlockSize int `yaml:"block_size"`
	// Resource is the iRODS resource files are opened from, empty for the default
	Resource string `yaml:"resource"`
}

// NewDefaultConfig creates a default Config
func NewDefaultConfig() *Config {
	return &Config{
		Config:    *fill.NewDefaultConfig(),
		BlockSize: irods.DefaultBlockSize,
		Resource:  "",
	}
}

// Validate validates the config
func (config *Config) Validate() error {
	err := config.Config.Validate()
	if err != nil {
		return err
	}

	if config.BlockSize <= 0 {
		return xerrors.Errorf("block size must be positive, got %d", config.BlockSize)
	}
	return nil
}
