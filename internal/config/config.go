// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFPS     = 60
	DefaultPlayers = 2
)

// Rollback holds the prediction window and input delay of a session.
type Rollback struct {
	MaxPrediction int `yaml:"max_prediction" json:"max_prediction"`
	InputDelay    int `yaml:"input_delay" json:"input_delay"`
}

// Credentials for an ICE server. A nil *Credentials means none.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ICE lists STUN/TURN servers handed to the transport.
type ICE struct {
	URLs        []string     `yaml:"urls" json:"urls"`
	Credentials *Credentials `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// Signaling is the room server endpoint and the ICE servers peers use.
type Signaling struct {
	Server string `yaml:"server" json:"server"`
	ICE    ICE    `yaml:"ice" json:"ice"`
}

// Static is a fully resolved server configuration. It is immutable for the
// lifetime of one peer session.
type Static struct {
	Signaling Signaling `yaml:"signaling" json:"signaling"`
	Rollback  Rollback  `yaml:"rollback" json:"rollback"`
	UnlockURL string    `yaml:"unlock_url,omitempty" json:"unlock_url,omitempty"`
}

// TurnOn points at an endpoint that hands out a Static configuration per client.
type TurnOn struct {
	URL       string `yaml:"url" json:"url"`
	NetplayID string `yaml:"netplay_id,omitempty" json:"netplay_id,omitempty"`
}

// Server is either Static or TurnOn.
type Server struct {
	Static *Static `yaml:"static,omitempty"`
	TurnOn *TurnOn `yaml:"turn_on,omitempty"`
}

// Stats configures where network statistics are exported.
type Stats struct {
	File             string        `yaml:"file,omitempty"`
	GreptimeEndpoint string        `yaml:"greptime_endpoint,omitempty"`
	Database         string        `yaml:"database,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
}

// Config is the root configuration for a netplay client.
type Config struct {
	Server  Server `yaml:"server"`
	FPS     int    `yaml:"fps,omitempty"`
	Players int    `yaml:"players,omitempty"`
	Stats   Stats  `yaml:"stats,omitempty"`
}

// Load validates a YAML config file against a CUE schema and decodes it.
// An empty schemaPath validates against the built-in schema.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	schema := []byte(builtinSchema)
	if schemaPath != "" {
		schema, err = os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
	}
	if err := Validate(configPath, data, schema); err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML into a Config and applies defaults and environment
// overrides without schema validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Static == nil && cfg.Server.TurnOn == nil {
		return nil, fmt.Errorf("parse config: server needs static or turn_on")
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	return &cfg, nil
}

// Fallback is used when no configuration is available: the public signaling
// server, Google STUN and a 12 frame prediction window.
func Fallback() *Config {
	cfg := &Config{Server: Server{Static: FallbackStatic()}}
	cfg.applyDefaults()
	return cfg
}

// DefaultSignalingServer is where `netplay-engine signal` listens by default.
const DefaultSignalingServer = "ws://localhost:3536"

// FallbackStatic returns the server part of Fallback.
func FallbackStatic() *Static {
	return &Static{
		Signaling: Signaling{
			Server: DefaultSignalingServer,
			ICE: ICE{URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}},
		},
		Rollback: Rollback{MaxPrediction: 12, InputDelay: 2},
	}
}

func (c *Config) applyDefaults() {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Players <= 0 {
		c.Players = DefaultPlayers
	}
	if c.Stats.Database == "" {
		c.Stats.Database = "public"
	}
	if c.Stats.Interval <= 0 {
		c.Stats.Interval = 5 * time.Second
	}
	if c.Server.TurnOn != nil && c.Server.TurnOn.NetplayID == "" {
		c.Server.TurnOn.NetplayID = uuid.NewString()
	}
}

// ApplyEnv overrides fields from NETPLAY_* and GREPTIMEDB_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("NETPLAY_SIGNALING_URL"); v != "" && c.Server.Static != nil {
		c.Server.Static.Signaling.Server = v
	}
	if v := os.Getenv("NETPLAY_ID"); v != "" && c.Server.TurnOn != nil {
		c.Server.TurnOn.NetplayID = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Stats.GreptimeEndpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Stats.Database = v
	}
}

// Clone returns a deep copy so a session can own its configuration.
func (s *Static) Clone() *Static {
	if s == nil {
		return nil
	}
	out := *s
	out.Signaling.ICE.URLs = append([]string(nil), s.Signaling.ICE.URLs...)
	if s.Signaling.ICE.Credentials != nil {
		cred := *s.Signaling.ICE.Credentials
		out.Signaling.ICE.Credentials = &cred
	}
	return &out
}

// Check reports the first invalid value of a resolved configuration.
func (s *Static) Check() error {
	switch {
	case s == nil:
		return fmt.Errorf("missing configuration")
	case s.Signaling.Server == "":
		return fmt.Errorf("signaling server not set")
	case s.Rollback.MaxPrediction < 1:
		return fmt.Errorf("max_prediction must be at least 1, got %d", s.Rollback.MaxPrediction)
	case s.Rollback.InputDelay < 0:
		return fmt.Errorf("input_delay must not be negative, got %d", s.Rollback.InputDelay)
	}
	return nil
}
