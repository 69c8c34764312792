// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package config loads the server's own configuration (JSON file, CLI
// flags, environment variables, in that order of increasing priority)
// and the secondary streams configuration file it points to.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/knadh/koanf"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/Dash-Industry-Forum/ll-relay/pkg/logging"
)

// Default values for fields a streams.json entry may omit. The hardware
// defaults (fps/keyint/width/bitrate) match the GEN test-source pipeline
// ffmpeg is invoked with when nothing else is specified.
const (
	DefaultTargetFps        = 30
	DefaultIntraInterval    = 15
	DefaultSegmentDuration  = 1.0
	DefaultFragmentDuration = 0.1
	DefaultTargetWidth      = 640
	DefaultTargetBitrate    = 1000
	DefaultTargetLatency    = 3.0
	DefaultTimeDisplacement = 0
	DefaultWaitForAbsent    = true
)

// ReaperInterval is how often the inactivity reaper sweeps the registry.
// InactivityThreshold is how long a stream may go untouched before the
// reaper tears it down.
const (
	ReaperInterval      = 2 * time.Second
	InactivityThreshold = 15 * time.Second
)

// ServerConfig is the top-level, once-loaded configuration.
type ServerConfig struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	SSLKeyFile           string `json:"sslKeyFile"`
	SSLCertFile          string `json:"sslCertFile"`
	Verbose              bool   `json:"verbose"`
	StreamsFile          string `json:"streams"`
	TimeDisplacement     int    `json:"timeDisplacement"`
	WaitForAbsentSegment bool   `json:"waitForAbsentSegment"`

	// Domains enables automatic Let's Encrypt certificates for the listed
	// comma-separated DNS domains, as an alternative to sslKeyFile/sslCertFile.
	Domains string `json:"domains"`

	LogFormat string `json:"logFormat"`
	LogLevel  string `json:"logLevel"`
}

// HTTPS reports whether TLS should be terminated with an explicit
// certificate/key pair.
func (c *ServerConfig) HTTPS() bool {
	return c.SSLKeyFile != "" && c.SSLCertFile != ""
}

// DefaultServerConfig holds the values used when neither the config file,
// the CLI, nor the environment set a field.
var DefaultServerConfig = ServerConfig{
	Host:                 "",
	Port:                 8080,
	Verbose:              false,
	TimeDisplacement:     DefaultTimeDisplacement,
	WaitForAbsentSegment: DefaultWaitForAbsent,
	LogFormat:            logging.LogText,
	LogLevel:             "INFO",
}

// QualityConfig is one entry of a stream's quality ladder.
type QualityConfig struct {
	TargetWidth   int `json:"targetWidth"`
	TargetBitrate int `json:"targetBitrate"`
}

// QualitiesConfig groups the quality ladder by media type; only video is
// modeled.
type QualitiesConfig struct {
	Video []QualityConfig `json:"video"`
}

// StreamConfig is one entry of the streams.json array: the packager
// configuration for a single live stream.
type StreamConfig struct {
	Stream                            string          `json:"stream"`
	Name                              string          `json:"name"`
	Type                              string          `json:"type"`
	Input                             string          `json:"input,omitempty"`
	TargetFps                         int             `json:"targetFps"`
	IntraInterval                     int             `json:"intraInterval"`
	SegmentDuration                   float64         `json:"segmentDuration"`
	FragmentDuration                  float64         `json:"fragmentDuration"`
	TargetWidth                       int             `json:"targetWidth"`
	TargetBitrate                     int             `json:"targetBitrate"`
	TargetLatency                     float64         `json:"targetLatency"`
	ServerSideRepresentationSwitching bool            `json:"serverSideRepresentationSwitching"`
	SaveStats                         bool            `json:"saveStats"`
	Qualities                         QualitiesConfig `json:"qualities"`
	AuthUser                          string          `json:"authUser,omitempty"`
	AuthPassword                      string          `json:"authPassword,omitempty"`
}

// ApplyDefaults fills in zero-valued optional fields with the documented
// defaults.
func (s *StreamConfig) ApplyDefaults() {
	if s.TargetFps == 0 {
		s.TargetFps = DefaultTargetFps
	}
	if s.IntraInterval == 0 {
		s.IntraInterval = DefaultIntraInterval
	}
	if s.SegmentDuration == 0 {
		s.SegmentDuration = DefaultSegmentDuration
	}
	if s.FragmentDuration == 0 {
		s.FragmentDuration = DefaultFragmentDuration
	}
	if s.TargetWidth == 0 {
		s.TargetWidth = DefaultTargetWidth
	}
	if s.TargetBitrate == 0 {
		s.TargetBitrate = DefaultTargetBitrate
	}
	if s.TargetLatency == 0 {
		s.TargetLatency = DefaultTargetLatency
	}
	if len(s.Qualities.Video) == 0 {
		s.Qualities.Video = []QualityConfig{{TargetWidth: s.TargetWidth, TargetBitrate: s.TargetBitrate}}
	}
}

// MaxAdaptationSet is the highest valid SSRS adaptation-set / quality index.
func (s *StreamConfig) MaxAdaptationSet() int {
	return len(s.Qualities.Video) - 1
}

// LoadConfig loads defaults, then the JSON config file named by cfgFile (if
// any), then CLI flags, then environment variables (LLRELAY_ prefix),
// exactly in that increasing-priority order. If -version was passed, it
// returns immediately with printVersion=true and no further parsing.
func LoadConfig(args []string, cwd string) (cfg *ServerConfig, printVersion bool, err error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultServerConfig, "json"), nil); err != nil {
		return nil, false, err
	}

	f := pflag.NewFlagSet("llrelay", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON server config file")
	f.String("host", k.String("host"), "host name to bind to")
	f.Int("port", k.Int("port"), "HTTP port")
	f.String("sslKeyFile", k.String("sslKeyFile"), "TLS private key file")
	f.String("sslCertFile", k.String("sslCertFile"), "TLS certificate file")
	f.Bool("verbose", k.Bool("verbose"), "enable debug logging")
	f.String("streams", k.String("streams"), "path to the streams JSON configuration file")
	f.Int("timeDisplacement", k.Int("timeDisplacement"), "seconds to subtract from /isotime's current time")
	f.Bool("waitForAbsentSegment", k.Bool("waitForAbsentSegment"), "create a placeholder and wait when a GET references a segment not yet seen")
	f.String("domains", k.String("domains"), "comma-separated DNS domains for an automatic Let's Encrypt certificate")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logFormat", k.String("logFormat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("logLevel", k.String("logLevel"), fmt.Sprintf("log level [%s]", ll))
	wantVersion := f.Bool("version", false, "print version and exit")
	// pflag reads a single-dash argument as a cluster of shorthand flags, so
	// single-dash long options (-version, -port 9999) are rewritten to their
	// double-dash form before parsing.
	cliArgs := make([]string, 0, len(args))
	for _, a := range args[1:] {
		if len(a) > 2 && a[0] == '-' && a[1] != '-' && f.Lookup(strings.SplitN(a[1:], "=", 2)[0]) != nil {
			a = "-" + a
		}
		cliArgs = append(cliArgs, a)
	}
	if err := f.Parse(cliArgs); err != nil {
		return nil, false, fmt.Errorf("command line parse: %w", err)
	}
	if *wantVersion {
		return nil, true, nil
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), koanfjson.Parser()); err != nil {
			return nil, false, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, false, fmt.Errorf("parsing cli: %w", err)
	}

	if err := k.Load(env.Provider("LLRELAY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LLRELAY_")), "_", ".")
	}), nil); err != nil {
		return nil, false, err
	}

	if err := checkTLSParams(k); err != nil {
		return nil, false, err
	}

	if sf := k.String("streams"); sf != "" && !path.IsAbs(sf) {
		if err := k.Load(confmap.Provider(map[string]any{
			"streams": path.Join(cwd, sf),
		}, "."), nil); err != nil {
			return nil, false, err
		}
	}

	var loaded ServerConfig
	if err := k.UnmarshalWithConf("", &loaded, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, false, err
	}
	if loaded.Verbose {
		loaded.LogLevel = "DEBUG"
	}
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		loaded.LogLevel = envLevel
	}
	if os.Getenv("JSON_LOGS") == "1" {
		loaded.LogFormat = logging.LogJSON
	}
	return &loaded, false, nil
}

func checkTLSParams(k *koanf.Koanf) error {
	domains := k.String("domains")
	certPath := k.String("sslCertFile")
	keyPath := k.String("sslKeyFile")
	switch {
	case domains != "":
		if certPath != "" || keyPath != "" {
			return fmt.Errorf("cannot use sslCertFile/sslKeyFile together with Let's Encrypt domains")
		}
		return nil
	case certPath == "" && keyPath == "":
		return nil
	case certPath != "" && keyPath != "":
		return nil
	default:
		return fmt.Errorf("sslCertFile and sslKeyFile must both be empty or both set")
	}
}

// LoadStreams reads and parses the streams configuration file, applying
// documented defaults to every entry. Failure here is always fatal at
// startup per the server's configuration-file error policy.
func LoadStreams(path string) ([]StreamConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read streams file: %w", err)
	}
	var streams []StreamConfig
	if err := json.Unmarshal(raw, &streams); err != nil {
		return nil, fmt.Errorf("parse streams file: %w", err)
	}
	for i := range streams {
		streams[i].ApplyDefaults()
	}
	return streams, nil
}
