package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/fedlink/internal/benchmark"
	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/peer"
	"github.com/danmuck/fedlink/internal/protocol"
	"github.com/danmuck/fedlink/internal/protocol/session"
)

type fileConfig struct {
	Transport string         `toml:"transport"`
	Session   sessionSection `toml:"session"`
	Benchmark benchSection   `toml:"benchmark"`
	Sim       simSection     `toml:"sim"`
	Tracing   traceSection   `toml:"tracing"`
}

type sessionSection struct {
	Layers             []int  `toml:"layers"`
	ReceiveChunkFloats int    `toml:"receive_chunk_floats"`
	SendChunkFloats    int    `toml:"send_chunk_floats"`
	ByteOrder          string `toml:"byte_order"`
	PollInterval       string `toml:"poll_interval"`
	ReceiveTimeout     string `toml:"receive_timeout"`
	ClassifyTimeout    string `toml:"classify_timeout"`
	SendSettleDelay    string `toml:"send_settle_delay"`
	TrainingGrace      string `toml:"training_grace"`
	BenchmarkGrace     string `toml:"benchmark_grace"`
}

type benchSection struct {
	Trials       int     `toml:"trials"`
	Cooldown     string  `toml:"cooldown"`
	WeightStdDev float64 `toml:"weight_stddev"`
	Seed         uint64  `toml:"seed"`
}

type simSection struct {
	NotifyInterval string `toml:"notify_interval"`
	AckDelay       string `toml:"ack_delay"`
}

type traceSection struct {
	Enabled  bool   `toml:"enabled"`
	Exporter string `toml:"exporter"`
}

// appConfig is everything one fedctl invocation needs.
type appConfig struct {
	Transport string
	Session   session.Config
	Benchmark benchmark.Config
	Peer      peer.Config
	Tracing   observability.TracerConfig
}

const transportSim = "sim"

func defaultAppConfig() appConfig {
	return appConfig{
		Transport: transportSim,
		Session:   session.DefaultConfig(),
		Benchmark: benchmark.DefaultConfig(),
		Peer:      peer.DefaultConfig(),
		Tracing:   observability.TracerConfig{Exporter: "stdout"},
	}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load fedctl config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if cfg.Transport != transportSim {
		return appConfig{}, fmt.Errorf("%w: transport %q (only %q is built in)", session.ErrTransportUnavailable, cfg.Transport, transportSim)
	}

	s := raw.Session
	if meta.IsDefined("session", "layers") {
		cfg.Session.Layers = append([]int(nil), s.Layers...)
	}
	if meta.IsDefined("session", "receive_chunk_floats") {
		cfg.Session.ReceiveChunkFloats = s.ReceiveChunkFloats
	}
	if meta.IsDefined("session", "send_chunk_floats") {
		cfg.Session.SendChunkFloats = s.SendChunkFloats
	}
	if meta.IsDefined("session", "byte_order") {
		order, err := protocol.ParseByteOrder(s.ByteOrder)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse session.byte_order: %w", err)
		}
		cfg.Session.ByteOrder = order
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", s.PollInterval, &cfg.Session.PollInterval},
		{"receive_timeout", s.ReceiveTimeout, &cfg.Session.ReceiveTimeout},
		{"classify_timeout", s.ClassifyTimeout, &cfg.Session.ClassifyTimeout},
		{"send_settle_delay", s.SendSettleDelay, &cfg.Session.SendSettleDelay},
		{"training_grace", s.TrainingGrace, &cfg.Session.TrainingGrace},
		{"benchmark_grace", s.BenchmarkGrace, &cfg.Session.BenchmarkGrace},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		if err := parseDuration("session."+d.key, d.raw, d.dst); err != nil {
			return appConfig{}, err
		}
	}
	if err := cfg.Session.Validate(); err != nil {
		return appConfig{}, err
	}

	b := raw.Benchmark
	if meta.IsDefined("benchmark", "trials") {
		cfg.Benchmark.Trials = b.Trials
	}
	if meta.IsDefined("benchmark", "cooldown") {
		if err := parseDuration("benchmark.cooldown", b.Cooldown, &cfg.Benchmark.Cooldown); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("benchmark", "weight_stddev") {
		cfg.Benchmark.WeightStdDev = b.WeightStdDev
	}
	if meta.IsDefined("benchmark", "seed") {
		cfg.Benchmark.Seed = b.Seed
	}
	if err := cfg.Benchmark.Validate(); err != nil {
		return appConfig{}, err
	}

	if meta.IsDefined("sim", "notify_interval") {
		if err := parseDuration("sim.notify_interval", raw.Sim.NotifyInterval, &cfg.Peer.NotifyInterval); err != nil {
			return appConfig{}, err
		}
	}
	if meta.IsDefined("sim", "ack_delay") {
		if err := parseDuration("sim.ack_delay", raw.Sim.AckDelay, &cfg.Peer.AckDelay); err != nil {
			return appConfig{}, err
		}
	}

	if meta.IsDefined("tracing", "enabled") {
		cfg.Tracing.Enabled = raw.Tracing.Enabled
	}
	if meta.IsDefined("tracing", "exporter") {
		cfg.Tracing.Exporter = strings.TrimSpace(raw.Tracing.Exporter)
	}

	return cfg, nil
}

// peerConfig keeps the simulated peer on the same wire contract as the host.
func (c appConfig) peerConfig() peer.Config {
	p := c.Peer
	p.Layers = append([]int(nil), c.Session.Layers...)
	p.ByteOrder = c.Session.ByteOrder
	return p
}

func parseDuration(key, raw string, dst *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
