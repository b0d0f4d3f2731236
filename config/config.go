package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Backends accepted in the backend setting.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Backend          string `mapstructure:"backend"`
	DataDir          string `mapstructure:"data_dir"`
	BaseName         string `mapstructure:"base_name"`
	ChunkLength      int    `mapstructure:"chunk_length"`
	Compress         bool   `mapstructure:"compress"`
	Passphrase       string `mapstructure:"passphrase"`
	ParallelismRatio int    `mapstructure:"parallelism_ratio"`
	ListenAddr       string `mapstructure:"listen_addr"`
	Debug            bool   `mapstructure:"debug"`
}

var Config *AppConfig

// LoadConfig reads config.yaml from path, applies CHUNKSTORE_* environment
// overrides and defaults, and stores the result in Config. A missing config
// file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("chunkstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", BackendBadger)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("base_name", "chunk_store")
	v.SetDefault("chunk_length", 256*1024)
	v.SetDefault("compress", false)
	v.SetDefault("passphrase", "")
	v.SetDefault("parallelism_ratio", 2)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	return &appConfig, nil
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch c.Backend {
	case BackendBadger, BackendSQLite, BackendLocal, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ChunkLength <= 0 {
		return fmt.Errorf("chunk_length must be positive, got %d", c.ChunkLength)
	}
	if c.BaseName == "" {
		return errors.New("base_name must not be empty")
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	return nil
}
