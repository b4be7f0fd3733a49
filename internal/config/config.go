package config

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultPort               = 20007
	DefaultConnectTimeoutMS   = 5000
	DefaultOperationTimeoutMS = 90000
)

// TLSConfig controls the optional TLS layer of the terminal socket.
type TLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CACertFile string `json:"ca_cert_file"`
	CACertPEM  string `json:"ca_cert_pem"`
	SkipVerify bool   `json:"skip_verify"`
}

// ConnectionConfig contains the terminal connection parameters. It is
// treated as immutable once handed to the client.
type ConnectionConfig struct {
	Host               string    `json:"host"`
	Port               int       `json:"port"`
	TLS                TLSConfig `json:"tls"`
	ConnectTimeoutMS   int       `json:"connect_timeout_ms"`
	IdleTimeoutMS      int       `json:"idle_timeout_ms"`
	OperationTimeoutMS int       `json:"operation_timeout_ms"`
}

func (c ConnectionConfig) Target() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ConnectionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// IdleTimeout returns zero when the idle watchdog is disabled.
func (c ConnectionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

func (c ConnectionConfig) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// JournalConfig controls the local payment-attempt journal.
type JournalConfig struct {
	Enabled bool `json:"enabled"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Journal    JournalConfig    `json:"journal"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Host:               "",
			Port:               DefaultPort,
			ConnectTimeoutMS:   DefaultConnectTimeoutMS,
			IdleTimeoutMS:      0,
			OperationTimeoutMS: DefaultOperationTimeoutMS,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.ConnectTimeoutMS <= 0 {
		c.Connection.ConnectTimeoutMS = DefaultConnectTimeoutMS
	}
	if c.Connection.IdleTimeoutMS < 0 {
		c.Connection.IdleTimeoutMS = 0
	}
	if c.Connection.OperationTimeoutMS <= 0 {
		c.Connection.OperationTimeoutMS = DefaultOperationTimeoutMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.Host) == "" {
		return errors.New("terminal host is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("terminal port out of range: %d", c.Connection.Port)
	}
	if err := c.Connection.TLS.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks the CA material eagerly so a bad path or garbage PEM
// surfaces at config time instead of on the first connect.
func (t TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CACertFile != "" && t.CACertPEM != "" {
		return errors.New("tls ca_cert_file and ca_cert_pem are mutually exclusive")
	}

	pem := []byte(t.CACertPEM)
	if t.CACertFile != "" {
		raw, err := os.ReadFile(t.CACertFile) // #nosec G304 -- operator-supplied CA path.
		if err != nil {
			return fmt.Errorf("tls ca cert file: %w", err)
		}
		pem = raw
	}
	if len(pem) > 0 && !x509.NewCertPool().AppendCertsFromPEM(pem) {
		return errors.New("tls ca material contains no usable certificates")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
