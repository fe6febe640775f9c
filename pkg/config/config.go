// Package config loads vrin-chat settings from defaults, a YAML config file,
// a .env file, VRIN_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
	"github.com/vrin-ai/vrin-chat/pkg/eventbus"
	"github.com/vrin-ai/vrin-chat/pkg/flush"
	"github.com/vrin-ai/vrin-chat/pkg/logging"
)

const (
	AppName   = "vrin-chat"
	EnvPrefix = "VRIN"

	DefaultResponseMode = "chat"
	DefaultRelayAddr    = "127.0.0.1:8787"
)

type Settings struct {
	APIKey         string `mapstructure:"api-key" yaml:"api-key"`
	BaseURL        string `mapstructure:"base-url" yaml:"base-url"`
	ResponseMode   string `mapstructure:"response-mode" yaml:"response-mode"`
	Streaming      bool   `mapstructure:"streaming" yaml:"streaming"`
	WebSearch      bool   `mapstructure:"web-search" yaml:"web-search"`
	IncludeSources bool   `mapstructure:"include-sources" yaml:"include-sources"`

	SessionStore  string        `mapstructure:"session-store" yaml:"session-store"`
	SessionKey    string        `mapstructure:"session-key" yaml:"session-key"`
	TranscriptDB  string        `mapstructure:"transcript-db" yaml:"transcript-db"`
	FlushInterval time.Duration `mapstructure:"flush-interval" yaml:"flush-interval"`

	Redis     eventbus.Settings `mapstructure:",squash" yaml:",inline"`
	RelayAddr string            `mapstructure:"relay-addr" yaml:"relay-addr"`

	Logging logging.Settings `mapstructure:",squash" yaml:",inline"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// SendOptions maps the request-shaping settings onto per-send options.
func (s Settings) SendOptions() chatsession.SendOptions {
	opts := chatsession.SendOptions{Mode: s.ResponseMode, Streaming: s.Streaming}
	if s.WebSearch {
		ws := true
		opts.WebSearch = &ws
	}
	return opts
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if s.APIKey != "" {
		if len(s.APIKey) > 8 {
			s.APIKey = s.APIKey[:4] + "…" + s.APIKey[len(s.APIKey)-4:]
		} else {
			s.APIKey = "****"
		}
	}
	return s
}

func (s Settings) YAML() ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	return b, nil
}

// AddFlags registers every setting as a persistent flag.
func AddFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("config", "", "Config file (default $XDG_CONFIG_HOME/vrin-chat/config.yaml)")
	fs.String("env-file", ".env", "Dotenv file to load before reading VRIN_* variables")

	fs.String("api-key", "", "VRIN API key")
	fs.String("base-url", d["base-url"].(string), "VRIN API base URL")
	fs.String("response-mode", d["response-mode"].(string), "Response mode sent with each message")
	fs.Bool("streaming", d["streaming"].(bool), "Use the streaming endpoint")
	fs.Bool("web-search", false, "Enable web search for each message")
	fs.Bool("include-sources", d["include-sources"].(bool), "Ask the backend to include sources")

	fs.String("session-store", d["session-store"].(string), "Session id store (memory://, file://, sqlite://, pebble://, redis://)")
	fs.String("session-key", d["session-key"].(string), "Key under which the session id is persisted")
	fs.String("transcript-db", d["transcript-db"].(string), "SQLite file recording completed turns (empty keeps history in memory)")
	fs.Duration("flush-interval", d["flush-interval"].(time.Duration), "Interval between streaming repaints")

	fs.Bool("redis-enabled", false, "Publish state frames to Redis Streams")
	fs.String("redis-addr", eventbus.DefaultAddr, "Redis address")
	fs.String("redis-stream", eventbus.DefaultTopic, "Redis stream (topic) for state frames")
	fs.String("relay-addr", "", "Serve the websocket relay on this address")

	fs.String("log-level", d["log-level"].(string), "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", d["log-format"].(string), "Log format (console, json)")
	fs.String("log-file", "", "Write logs to this file")
	fs.Bool("with-caller", false, "Include caller (file:line) in logs")
}

// Load resolves the effective settings. fs may be nil.
func Load(fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	envFile := ".env"
	configFile := ""
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	s.ConfigFile = v.ConfigFileUsed()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.FlushInterval <= 0 {
		return errors.Errorf("flush-interval must be positive, got %s", s.FlushInterval)
	}
	if s.SessionKey == "" {
		return errors.New("session-key must not be empty")
	}
	if s.ResponseMode == "" {
		s.ResponseMode = DefaultResponseMode
	}
	return nil
}

func defaults() map[string]any {
	return map[string]any{
		"api-key":         "",
		"base-url":        chatapi.DefaultBaseURL,
		"response-mode":   DefaultResponseMode,
		"streaming":       true,
		"web-search":      false,
		"include-sources": true,
		"session-store":   defaultSessionStore(),
		"session-key":     chatsession.DefaultSessionKey,
		"transcript-db":   defaultTranscriptDB(),
		"flush-interval":  flush.DefaultInterval,
		"redis-enabled":   false,
		"redis-addr":      eventbus.DefaultAddr,
		"redis-stream":    eventbus.DefaultTopic,
		"redis-group":     eventbus.DefaultGroup,
		"redis-consumer":  eventbus.DefaultConsumer,
		"relay-addr":      "",
		"log-level":       "info",
		"log-format":      logging.FormatConsole,
		"log-file":        "",
		"with-caller":     false,
	}
}

func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName)
}

// StateDir is where vrin-chat keeps local state unless configured otherwise.
func StateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName)
	}
	return filepath.Join(home, ".local", "state", AppName)
}

func defaultTranscriptDB() string {
	return filepath.Join(StateDir(), "transcript.db")
}

func defaultSessionStore() string {
	return "file://" + filepath.ToSlash(filepath.Join(StateDir(), "session.json"))
}
