package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"termlink/internal/testcert"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{
		Connection: ConnectionConfig{Host: "terminal.local", IdleTimeoutMS: -5},
	}
	cfg.FillMissingDefaults()

	if cfg.Connection.Port != DefaultPort {
		t.Fatalf("port default not applied: %d", cfg.Connection.Port)
	}
	if cfg.Connection.ConnectTimeoutMS != DefaultConnectTimeoutMS {
		t.Fatalf("connect timeout default not applied: %d", cfg.Connection.ConnectTimeoutMS)
	}
	if cfg.Connection.IdleTimeoutMS != 0 {
		t.Fatalf("negative idle timeout not normalized: %d", cfg.Connection.IdleTimeoutMS)
	}
	if cfg.Connection.OperationTimeoutMS != DefaultOperationTimeoutMS {
		t.Fatalf("operation timeout default not applied: %d", cfg.Connection.OperationTimeoutMS)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level default not applied: %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected host requirement error")
	}

	cfg.Connection.Host = "terminal.local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Connection.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected port range error")
	}
	cfg.Connection.Port = DefaultPort

	cfg.Connection.TLS = TLSConfig{Enabled: true, CACertFile: "/ca.pem", CACertPEM: "inline"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected mutually exclusive ca material error")
	}
}

func TestValidateChecksCAMaterial(t *testing.T) {
	cfg := Default()
	cfg.Connection.Host = "terminal.local"

	cfg.Connection.TLS = TLSConfig{Enabled: true, CACertFile: filepath.Join(t.TempDir(), "absent.pem")}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unreadable ca file")
	}

	cfg.Connection.TLS = TLSConfig{Enabled: true, CACertPEM: "not a certificate"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for garbage ca pem")
	}

	pair, err := testcert.New()
	if err != nil {
		t.Fatalf("generate test cert: %v", err)
	}

	cfg.Connection.TLS = TLSConfig{Enabled: true, CACertPEM: string(pair.CertPEM)}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid inline ca rejected: %v", err)
	}

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, pair.CertPEM, 0o600); err != nil {
		t.Fatalf("write ca file: %v", err)
	}
	cfg.Connection.TLS = TLSConfig{Enabled: true, CACertFile: caPath}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid ca file rejected: %v", err)
	}

	// Disabled TLS never touches the CA material.
	cfg.Connection.TLS = TLSConfig{Enabled: false, CACertFile: "/nope.pem"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled tls must skip ca checks: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Connection.Host = "10.0.0.5"
	cfg.Connection.Port = 22000
	cfg.Connection.TLS.Enabled = true
	cfg.Connection.TLS.SkipVerify = true
	cfg.Logging.Level = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("round trip mismatch: got %+v want %+v", loaded, cfg)
	}
}

func TestDurationHelpers(t *testing.T) {
	conn := ConnectionConfig{Host: "h", Port: 1, ConnectTimeoutMS: 1500, IdleTimeoutMS: 0, OperationTimeoutMS: 90000}
	if conn.ConnectTimeout() != 1500*time.Millisecond {
		t.Fatalf("connect timeout: %s", conn.ConnectTimeout())
	}
	if conn.IdleTimeout() != 0 {
		t.Fatalf("idle timeout: %s", conn.IdleTimeout())
	}
	if conn.OperationTimeout() != 90*time.Second {
		t.Fatalf("operation timeout: %s", conn.OperationTimeout())
	}
	if conn.Target() != "h:1" {
		t.Fatalf("target: %s", conn.Target())
	}
}
