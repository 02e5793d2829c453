package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	ApplyDefaults(&cfg)

	if *cfg.HighLatencyThresholdMs != DefaultHighLatencyMs || *cfg.PacketLossThresholdPct != DefaultPacketLossPct {
		t.Fatalf("thresholds not defaulted: %+v", cfg)
	}
	if cfg.FlushInterval() != time.Minute || cfg.FlushTimeout() != 30*time.Second {
		t.Fatalf("flush durations: %s %s", cfg.FlushInterval(), cfg.FlushTimeout())
	}
	if cfg.MergeParallelism != DefaultMergeParallelism {
		t.Fatalf("merge_parallelism=%d", cfg.MergeParallelism)
	}
	if cfg.LoggingEnabled == nil || !*cfg.LoggingEnabled {
		t.Fatalf("logging_enabled default not true")
	}
	if cfg.DatabasePath != DefaultDatabasePath || cfg.Listen != DefaultListen {
		t.Fatalf("paths not defaulted: %+v", cfg)
	}
	if cfg.ReverseDNS.Enabled {
		t.Fatalf("reverse dns should be off by default")
	}
	if cfg.ReverseDNS.Transport != DefaultReverseDNSMode || cfg.ReverseDNS.Retries != DefaultReverseDNSRetries {
		t.Fatalf("reverse dns transport defaults: %+v", cfg.ReverseDNS)
	}
	if cfg.ReverseDNSTimeout() != 2*time.Second {
		t.Fatalf("reverse dns timeout=%s", cfg.ReverseDNSTimeout())
	}
}

func TestLoad_KeepsExplicitFalse(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hopwatch.yaml")
	body := "logging_enabled: false\nhigh_latency_threshold_ms: 150\nreverse_dns:\n  enabled: true\n  resolvers: [\"1.1.1.1:53\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LoggingEnabled == nil || *cfg.LoggingEnabled {
		t.Fatalf("explicit logging_enabled=false was overwritten")
	}
	if *cfg.HighLatencyThresholdMs != 150 {
		t.Fatalf("threshold=%v", *cfg.HighLatencyThresholdMs)
	}
	if !cfg.ReverseDNS.Enabled || len(cfg.ReverseDNS.Resolvers) != 1 {
		t.Fatalf("reverse dns: %+v", cfg.ReverseDNS)
	}
	if *cfg.PacketLossThresholdPct != DefaultPacketLossPct {
		t.Fatalf("loss threshold not defaulted: %v", *cfg.PacketLossThresholdPct)
	}
}

func TestLoad_KeepsExplicitZeroThresholds(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hopwatch.yaml")
	body := "packet_loss_threshold_pct: 0\nhigh_latency_threshold_ms: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PacketLossThresholdPct == nil || *cfg.PacketLossThresholdPct != 0 {
		t.Fatalf("explicit packet_loss_threshold_pct=0 was overwritten: %v", cfg.PacketLossThresholdPct)
	}
	if cfg.HighLatencyThresholdMs == nil || *cfg.HighLatencyThresholdMs != 0 {
		t.Fatalf("explicit high_latency_threshold_ms=0 was overwritten: %v", cfg.HighLatencyThresholdMs)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("zero thresholds should validate: %v", err)
	}
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := Default()
	tooHigh := 150.0
	bad.PacketLossThresholdPct = &tooHigh
	if err := Validate(bad); err == nil {
		t.Fatalf("expected loss threshold error")
	}

	bad = Default()
	bad.ReverseDNS.Timeout = "soon"
	if err := Validate(bad); err == nil {
		t.Fatalf("expected timeout error")
	}

	bad = Default()
	bad.ReverseDNS.Transport = "quic"
	if err := Validate(bad); err == nil {
		t.Fatalf("expected transport error")
	}

	bad = Default()
	bad.ReverseDNS.Retries = -1
	if err := Validate(bad); err == nil {
		t.Fatalf("expected retries error")
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "hopwatch.yaml")
	if err := Save(path, Config{Listen: "127.0.0.1:9090"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%v", st.Mode().Perm())
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9090" || cfg.MergeParallelism != DefaultMergeParallelism {
		t.Fatalf("round trip: %+v", cfg)
	}
}

func TestRuntime_ToggleLogging(t *testing.T) {
	t.Parallel()

	off := false
	rt := NewRuntime(Config{LoggingEnabled: &off})
	if rt.LoggingEnabled() {
		t.Fatalf("expected logging disabled")
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			rt.SetLoggingEnabled(v)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = rt.LoggingEnabled()
		}()
	}
	wg.Wait()

	rt.SetLoggingEnabled(true)
	if !rt.LoggingEnabled() {
		t.Fatalf("expected logging enabled")
	}

	var nilRuntime *Runtime
	if !nilRuntime.LoggingEnabled() {
		t.Fatalf("nil runtime should report enabled")
	}
}
