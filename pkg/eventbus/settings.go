// Package eventbus carries chat state frames between the chat client and
// relay viewers over Watermill, in process or through Redis Streams.
package eventbus

const (
	DefaultTopic    = "vrin-chat.state"
	DefaultAddr     = "localhost:6379"
	DefaultGroup    = "vrin-relay"
	DefaultConsumer = "relay-1"
)

// Settings holds the transport configuration. With Enabled false frames stay
// inside the process.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled" yaml:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr" yaml:"redis-addr"`
	Topic    string `mapstructure:"redis-stream" yaml:"redis-stream"`
	Group    string `mapstructure:"redis-group" yaml:"redis-group"`
	Consumer string `mapstructure:"redis-consumer" yaml:"redis-consumer"`
}

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.Topic == "" {
		s.Topic = DefaultTopic
	}
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	if s.Consumer == "" {
		s.Consumer = DefaultConsumer
	}
	return s
}
