// Package config holds the hub's file configuration. A file only needs the
// values it changes; everything else keeps the Default.
//
//	server:
//	  addr: ":9000"
//	  advertise: "10.0.0.5:9000"
//	sessions:
//	  idle_timeout: 2m
//	registry:
//	  endpoints: ["127.0.0.1:2379"]
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"hubrpc/codec"

	yaml "gopkg.in/yaml.v2"
)

// Duration is a time.Duration written as "30s", "2m" and so on.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

type Config struct {
	Server    Server    `yaml:"server"`
	Codec     Codec     `yaml:"codec"`
	Sessions  Sessions  `yaml:"sessions"`
	Limits    Limits    `yaml:"limits"`
	Registry  Registry  `yaml:"registry"`
	Telemetry Telemetry `yaml:"telemetry"`
	Log       Log       `yaml:"log"`
	Publisher Publisher `yaml:"publisher"`
}

type Server struct {
	Addr            string   `yaml:"addr"`
	Advertise       string   `yaml:"advertise"` // empty means the listen address
	ServiceName     string   `yaml:"service_name"`
	TTL             int64    `yaml:"ttl"` // registry lease, seconds
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Codec names the frame codec (json, binary) and the payload serializer
// (json, gob).
type Codec struct {
	Frame   string `yaml:"frame"`
	Payload string `yaml:"payload"`
}

type Sessions struct {
	IdleTimeout   Duration `yaml:"idle_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Limits configures the hub middlewares. A zero Rate disables rate
// limiting; a zero Timeout disables the call deadline.
type Limits struct {
	Rate    float64  `yaml:"rate"`
	Burst   int      `yaml:"burst"`
	Timeout Duration `yaml:"timeout"`
}

// Registry enables etcd service discovery when Endpoints is not empty.
type Registry struct {
	Endpoints   []string `yaml:"endpoints"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// Telemetry enables the OpenTelemetry hook with stdout exporters.
type Telemetry struct {
	Enabled        bool     `yaml:"enabled"`
	ExportInterval Duration `yaml:"export_interval"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Publisher drives the sample message publisher; zero disables it.
type Publisher struct {
	Interval Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":9000",
			ServiceName:     "hub",
			TTL:             10,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Codec: Codec{Frame: "json", Payload: "json"},
		Sessions: Sessions{
			IdleTimeout:   Duration(5 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Limits: Limits{
			Timeout: Duration(30 * time.Second),
		},
		Registry:  Registry{DialTimeout: Duration(5 * time.Second)},
		Telemetry: Telemetry{ExportInterval: Duration(time.Minute)},
		Log:       Log{Level: "info", Format: "text"},
		Publisher: Publisher{
			Interval: Duration(time.Second),
		},
	}
}

// Load reads the YAML file at path over Default and validates the result.
// An empty path returns Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first inconsistent value.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ServiceName == "" {
		return errors.New("server.service_name is required")
	}
	if c.Server.TTL <= 0 {
		return fmt.Errorf("server.ttl must be positive, got %d", c.Server.TTL)
	}
	frame, err := codec.ParseCodecType(c.Codec.Frame)
	if err != nil {
		return fmt.Errorf("codec.frame: %w", err)
	}
	if frame == codec.CodecTypeGob {
		return errors.New("codec.frame: gob is a payload serializer only")
	}
	payload, err := codec.ParseCodecType(c.Codec.Payload)
	if err != nil {
		return fmt.Errorf("codec.payload: %w", err)
	}
	if !codec.IsPayloadCodec(payload) {
		return fmt.Errorf("codec.payload: %s cannot serialize arbitrary values", payload)
	}
	if c.Sessions.SweepInterval <= 0 {
		return errors.New("sessions.sweep_interval must be positive")
	}
	if c.Limits.Rate < 0 || c.Limits.Burst < 0 {
		return errors.New("limits.rate and limits.burst must not be negative")
	}
	if c.Limits.Rate > 0 && c.Limits.Burst == 0 {
		return errors.New("limits.burst is required with limits.rate")
	}
	if c.Telemetry.Enabled && c.Telemetry.ExportInterval <= 0 {
		return errors.New("telemetry.export_interval must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return fmt.Errorf("log.format: unknown format %q", f)
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Handler builds the slog handler Log describes, writing to w.
func (l Log) Handler(w io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}
