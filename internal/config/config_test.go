package config

import (
	"os"
	"testing"

	"github.com/mycoool/tongbu/internal/types"
)

func inTempDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(orig)
		types.TongbuAppConfig = nil
	})
}

func TestLoadAppConfigCreatesDefault(t *testing.T) {
	inTempDir(t)

	if err := LoadAppConfig(); err != nil {
		t.Fatal(err)
	}
	cfg := types.TongbuAppConfig
	if cfg == nil {
		t.Fatal("config not set")
	}
	if cfg.Port != 9100 {
		t.Fatalf("default port: %d", cfg.Port)
	}
	if cfg.SSH.HostKeyPolicy != "accept-new" {
		t.Fatalf("default host key policy: %s", cfg.SSH.HostKeyPolicy)
	}
	if cfg.SecretKey == "" {
		t.Fatal("secret key must be generated")
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "admin" {
		t.Fatalf("default users: %+v", cfg.Users)
	}
	if _, err := os.Stat("app.yaml"); err != nil {
		t.Fatal("default config file must be written")
	}
}

func TestLoadAppConfigRoundTrip(t *testing.T) {
	inTempDir(t)

	types.TongbuAppConfig = defaultAppConfig()
	types.TongbuAppConfig.Port = 8123
	types.TongbuAppConfig.SSH.HostKeyPolicy = "reject"
	if err := SaveAppConfig(); err != nil {
		t.Fatal(err)
	}

	types.TongbuAppConfig = nil
	if err := LoadAppConfig(); err != nil {
		t.Fatal(err)
	}
	if types.TongbuAppConfig.Port != 8123 {
		t.Fatalf("port not persisted: %d", types.TongbuAppConfig.Port)
	}
	if types.TongbuAppConfig.SSH.HostKeyPolicy != "reject" {
		t.Fatalf("ssh policy not persisted: %s", types.TongbuAppConfig.SSH.HostKeyPolicy)
	}
}

func TestApplyDefaultsFillsGaps(t *testing.T) {
	cfg := &types.AppConfig{}
	applyDefaults(cfg)
	if cfg.Port != 9100 || cfg.JWTExpiryDuration != 24 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.Database != "tongbu.db" {
		t.Fatalf("database defaults: %+v", cfg.Database)
	}
}
