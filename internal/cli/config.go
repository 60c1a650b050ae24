package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/okdaichi/overlaysync/internal/client"
	"github.com/okdaichi/overlaysync/internal/local"
	"github.com/okdaichi/overlaysync/internal/observability"
	"github.com/okdaichi/overlaysync/internal/relay"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress   = "0.0.0.0:3000"
	defaultRelayURL  = "http://localhost:3000"
	defaultOutputDir = "overlay"
	defaultService   = "overlaysync"
)

type config struct {
	Address      string
	SnapshotPath string
	RelayConfig  relay.Config

	RelayURL     string
	HTTPFallback bool
	Fallback     bool
	Slot         local.SlotConfig
	TLS          *client.TLSConfig

	OutputDir string

	LogLevel      slog.Level
	Observability observability.Config
}

type yamlConfig struct {
	Server struct {
		Address   string `yaml:"address"`
		AllowCORS *bool  `yaml:"allow_cors"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`
	Relay struct {
		EchoToSender    *bool  `yaml:"echo_to_sender"`
		SendBuffer      int    `yaml:"send_buffer"`
		MaxMessageBytes int64  `yaml:"max_message_bytes"`
		SnapshotPath    string `yaml:"snapshot_path"`
	} `yaml:"relay"`
	Client struct {
		RelayURL     string `yaml:"relay_url"`
		HTTPFallback *bool  `yaml:"http_fallback"`
		CAFile       string `yaml:"ca_file"`
		CertFile     string `yaml:"cert_file"`
		KeyFile      string `yaml:"key_file"`
	} `yaml:"client"`
	Fallback struct {
		Enabled *bool  `yaml:"enabled"`
		Storage string `yaml:"storage"`
		Path    string `yaml:"path"`
	} `yaml:"fallback"`
	Watch struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"watch"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Observability struct {
		Service   string `yaml:"service"`
		TraceAddr string `yaml:"trace_addr"`
		Metrics   bool   `yaml:"metrics"`
	} `yaml:"observability"`
}

// loadConfig reads filename, applies defaults and then environment
// overrides. An empty filename yields the defaults.
func loadConfig(filename string) (*config, error) {
	var ymlConfig yamlConfig

	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&ymlConfig); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	// Set defaults
	if ymlConfig.Server.Address == "" {
		ymlConfig.Server.Address = defaultAddress
	}
	if ymlConfig.Client.RelayURL == "" {
		ymlConfig.Client.RelayURL = defaultRelayURL
	}
	if ymlConfig.Fallback.Storage == "" {
		ymlConfig.Fallback.Storage = "file"
	}
	if ymlConfig.Watch.OutputDir == "" {
		ymlConfig.Watch.OutputDir = defaultOutputDir
	}
	if ymlConfig.Observability.Service == "" {
		ymlConfig.Observability.Service = defaultService
	}

	level, err := parseLevel(ymlConfig.Log.Level)
	if err != nil {
		return nil, err
	}

	cfg := &config{
		Address:      ymlConfig.Server.Address,
		SnapshotPath: ymlConfig.Relay.SnapshotPath,
		RelayConfig: relay.Config{
			NoEcho:          !boolOr(ymlConfig.Relay.EchoToSender, true),
			AllowCORS:       boolOr(ymlConfig.Server.AllowCORS, true),
			SendBuffer:      ymlConfig.Relay.SendBuffer,
			MaxMessageBytes: ymlConfig.Relay.MaxMessageBytes,
			StaticDir:       ymlConfig.Server.StaticDir,
			Metrics:         ymlConfig.Observability.Metrics,
		},
		RelayURL:     ymlConfig.Client.RelayURL,
		HTTPFallback: boolOr(ymlConfig.Client.HTTPFallback, true),
		Fallback:     boolOr(ymlConfig.Fallback.Enabled, true),
		Slot: local.SlotConfig{
			Kind: ymlConfig.Fallback.Storage,
			Path: ymlConfig.Fallback.Path,
		},
		OutputDir: ymlConfig.Watch.OutputDir,
		LogLevel:  level,
		Observability: observability.Config{
			Service:   ymlConfig.Observability.Service,
			TraceAddr: ymlConfig.Observability.TraceAddr,
			Metrics:   ymlConfig.Observability.Metrics,
		},
	}

	if c := ymlConfig.Client; c.CAFile != "" || c.CertFile != "" {
		cfg.TLS = &client.TLSConfig{CertFile: c.CertFile, KeyFile: c.KeyFile, CAFile: c.CAFile}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies PORT, ALLOW_CORS, OVERLAY_RELAY_URL and LOG_LEVEL.
func (c *config) applyEnv() error {
	if port := getEnv("PORT", ""); port != "" {
		host, _, err := net.SplitHostPort(c.Address)
		if err != nil {
			host = ""
		}
		c.Address = net.JoinHostPort(host, port)
	}

	c.RelayConfig.AllowCORS = getEnvBool("ALLOW_CORS", c.RelayConfig.AllowCORS)
	c.RelayURL = getEnv("OVERLAY_RELAY_URL", c.RelayURL)

	if lvl := getEnv("LOG_LEVEL", ""); lvl != "" {
		level, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		c.LogLevel = level
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}

// clientConfig builds the transport client settings from c.
func (c *config) clientConfig() (client.Config, local.Slot, error) {
	cc := client.Config{
		URL:          c.RelayURL,
		Fallback:     c.Fallback,
		HTTPFallback: c.HTTPFallback,
		TLS:          c.TLS,
	}
	if !c.Fallback {
		return cc, nil, nil
	}

	slot, err := local.OpenSlot(c.Slot)
	if err != nil {
		return client.Config{}, nil, fmt.Errorf("open fallback slot: %w", err)
	}
	cc.Slot = slot
	return cc, slot, nil
}

var errNoDocument = errors.New("no document given")
