package config

import (
	"errors"
	"os"
	"testing"
)

func resetLive() {
	SetConfig(nil)
}

func TestLoad_InstallsConfig(t *testing.T) {
	resetLive()
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if GetConfig() != cfg {
		t.Fatal("Load did not install the configuration")
	}
	if cfg.Session.AllowedOrigins[0] != "example.com" {
		t.Errorf("unexpected origins %v", cfg.Session.AllowedOrigins)
	}
}

func TestLoad_OverridesAreValidated(t *testing.T) {
	resetLive()
	path := writeConfig(t, minimalYAML)

	_, err := Load(path, func(c *Config) { c.Telemetry.Logging.Level = "chatty" })
	if err == nil {
		t.Fatal("expected validation error from override")
	}
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error %v does not wrap ValidationError", err)
	}
	if GetConfig() != nil {
		t.Error("failed Load installed a configuration")
	}
}

func TestReloadConfig_ReappliesOverrides(t *testing.T) {
	resetLive()
	path := writeConfig(t, minimalYAML)

	listen := func(c *Config) { c.Server.ListenAddress = "127.0.0.1:9999" }
	if _, err := Load(path, listen); err != nil {
		t.Fatal(err)
	}

	updated := `
server:
  listen_address: "0.0.0.0:7000"
session:
  allowed_origins: ["new.example.com"]
upstream:
  webhook_url: "http://127.0.0.1:5678/webhook/chat"
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}
	if GetConfig() != cfg {
		t.Error("ReloadConfig did not install the returned configuration")
	}
	if cfg.Session.AllowedOrigins[0] != "new.example.com" {
		t.Errorf("origins = %v, want file change", cfg.Session.AllowedOrigins)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("ListenAddress = %q, override lost on reload", cfg.Server.ListenAddress)
	}
}

func TestReloadConfig_KeepsPreviousOnError(t *testing.T) {
	resetLive()
	path := writeConfig(t, minimalYAML)
	before, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("upstream: {webhook_url: \"\"}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReloadConfig(path); err == nil {
		t.Fatal("expected reload error")
	}
	if GetConfig() != before {
		t.Error("failed reload replaced the configuration")
	}
}

func TestSetConfig_ClearsOverrides(t *testing.T) {
	resetLive()
	path := writeConfig(t, minimalYAML)
	if _, err := Load(path, func(c *Config) { c.Server.ListenAddress = "127.0.0.1:9999" }); err != nil {
		t.Fatal(err)
	}

	cfg := MinimalConfig()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Fatal("SetConfig did not replace the configuration")
	}

	reloaded, err := ReloadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Server.ListenAddress == "127.0.0.1:9999" {
		t.Error("override survived SetConfig")
	}
}
