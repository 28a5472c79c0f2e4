package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genpool/internal/config"
	"genpool/internal/manager"
	"genpool/internal/studio"
	"genpool/pkg/types"
)

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "genpool.yaml")
	if err := os.WriteFile(cfgPath, []byte("api_addr: \":7000\"\nmanagement_addr: \":7001\"\nmax_retries: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GENPOOL_MANAGEMENT_ADDR", ":7101")
	t.Setenv("GENPOOL_MAX_RETRIES", "3")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", cfgPath, "--env-file", filepath.Join(dir, "none.env"), "--max-retries", "1", "--bootstrap", "simulated:2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(out.Bytes(), &cfg); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if cfg.APIAddr != ":7000" {
		t.Fatalf("file value lost: %q", cfg.APIAddr)
	}
	if cfg.ManagementAddr != ":7101" {
		t.Fatalf("env should override file: %q", cfg.ManagementAddr)
	}
	if cfg.MaxRetries != 1 {
		t.Fatalf("flag should override env: %d", cfg.MaxRetries)
	}
	if len(cfg.Bootstrap) != 1 || cfg.Bootstrap[0].Count != 2 {
		t.Fatalf("bootstrap: %+v", cfg.Bootstrap)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "--env-file", filepath.Join(t.TempDir(), "none.env"), "--browser", "lynx"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "genpoold "+version {
		t.Fatalf("got %q", out.String())
	}
}

func TestBuildLogger(t *testing.T) {
	var buf bytes.Buffer
	log := buildLogger(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if got := buildLogger(&buf, "off", "json").GetLevel(); got != zerolog.Disabled {
		t.Fatalf("off -> %v", got)
	}
	if got := buildLogger(&buf, "nonsense", "console").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("fallback -> %v", got)
	}
}

func TestBootstrapTopsUp(t *testing.T) {
	mgr := manager.New(studio.NewFactory(studio.FactoryOptions{}))
	defer mgr.Close(context.Background())
	if _, err := mgr.CreateInstance(types.ServiceSimulated, "existing"); err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []config.Bootstrap{{Service: "simulated", Count: 3}, {Service: "doubao", Count: 1}}
	created, err := bootstrap(mgr, want)
	if err != nil || len(created) != 3 {
		t.Fatalf("bootstrap: %v created=%v", err, created)
	}
	created, err = bootstrap(mgr, want)
	if err != nil || len(created) != 0 {
		t.Fatalf("second bootstrap: %v created=%v", err, created)
	}
	counts := map[types.ServiceKind]int{}
	for _, in := range mgr.ListInstances() {
		counts[in.Kind]++
	}
	if counts[types.ServiceSimulated] != 3 || counts[types.ServiceDoubao] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestManagerConfigRetries(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxRetries = 0
	if got := managerConfig(cfg, nil, nil, manager.NewBroadcaster(1), zerolog.Nop()).MaxRetries; got != -1 {
		t.Fatalf("zero retries should disable: %d", got)
	}
	cfg.AutoRestart = false
	if !managerConfig(cfg, nil, nil, manager.NewBroadcaster(1), zerolog.Nop()).DisableAutoRestart {
		t.Fatalf("auto restart should be disabled")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIAddr = "127.0.0.1:0"
	cfg.ManagementAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.DrainTimeoutSeconds = 1
	cfg.Bootstrap = []config.Bootstrap{{Service: "simulated", Count: 1}}
	cfg.Autostart = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zerolog.Nop()) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not return")
	}
	if _, err := os.Stat(cfg.InstancesFile()); err != nil {
		t.Fatalf("instance metadata not written: %v", err)
	}
}
