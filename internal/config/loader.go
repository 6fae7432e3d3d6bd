package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".tapsink"

// configType is the config file format assumed when the file has no
// recognizable extension.
const configType = "yaml"

// envPrefix is the environment variable prefix for tapsink settings.
const envPrefix = "TAPSINK"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path
// (JSON and YAML are both accepted, decided by extension). Otherwise, the
// config file is searched in CWD and $HOME. Missing config file is not an
// error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("destination", DefaultDestination)
	viperCfg.SetDefault("add_record_metadata", DefaultAddRecordMetadata)
	viperCfg.SetDefault("compression", DefaultCompression)
	viperCfg.SetDefault("backend_timeout", DefaultBackendTimeout)
	viperCfg.SetDefault("backend_retries", DefaultBackendRetries)
	viperCfg.SetDefault("metrics_addr", "")
	viperCfg.SetDefault("log_level", DefaultLogLevel)

	viperCfg.SetDefault("local.folder", DefaultLocalFolder)

	viperCfg.SetDefault("s3.bucket", "")
	viperCfg.SetDefault("s3.prefix", "")
	viperCfg.SetDefault("s3.endpoint", "")
	viperCfg.SetDefault("s3.region", "")
	viperCfg.SetDefault("s3.access_key", "")
	viperCfg.SetDefault("s3.secret_key", "")
	viperCfg.SetDefault("s3.use_ssl", DefaultS3UseSSL)
}
