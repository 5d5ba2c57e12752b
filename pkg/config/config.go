package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Configuration is the daemon's top-level settings.
type Configuration struct {
	ListenAddr string
	// StorePath is the SQLite snapshot store location.
	StorePath string
	// DiffMode selects the overlay dirtiness policy: "permissive" or "strict".
	DiffMode       string
	CoalesceWindow time.Duration
	AckTimeout     time.Duration
	MQTT           MQTTSettings
}

// MQTTSettings configures the broker used by bridged device links.
type MQTTSettings struct {
	BrokerURL string
	Username  string
	Password  string
	// RootPrefix is prepended to each device's topic root.
	RootPrefix string
}

// Load reads meshdeck.yaml from dir (or the working directory when empty).
// A missing file is fine; defaults apply.
func Load(dir string) (Configuration, error) {
	v := viper.New()
	v.SetConfigName("meshdeck")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("meshdeck")
	v.AutomaticEnv()

	v.SetDefault("listenaddr", ":8420")
	v.SetDefault("storepath", "meshdeck.db")
	v.SetDefault("diffmode", "permissive")
	v.SetDefault("coalescewindow", 500*time.Millisecond)
	v.SetDefault("acktimeout", 60*time.Second)
	v.SetDefault("mqtt.brokerurl", "tcp://localhost:1883")
	v.SetDefault("mqtt.rootprefix", "meshdeck")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Configuration{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DiffMode != "permissive" && cfg.DiffMode != "strict" {
		return Configuration{}, fmt.Errorf("invalid diffmode %q: want permissive or strict", cfg.DiffMode)
	}
	return cfg, nil
}
