// Package config loads convocore settings from a YAML file, CONVOCORE_* environment variables
// and command-line flags, in increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/convocore/pkg/ask"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/eventbus"
	"github.com/go-go-golems/convocore/pkg/logging"
	"github.com/go-go-golems/convocore/pkg/quota"
)

const EnvPrefix = "CONVOCORE"

type AskSettings struct {
	MinDelay         time.Duration `mapstructure:"min-delay"`
	FragmentDelay    time.Duration `mapstructure:"fragment-delay"`
	MaxMessageLength int           `mapstructure:"max-message-length"`
}

type QuotaSettings struct {
	WarningMargin int `mapstructure:"warning-margin"`
}

type CommandsSettings struct {
	AccountsURL string   `mapstructure:"accounts-url"`
	Tours       []string `mapstructure:"tours"`
}

type FeedbackSettings struct {
	URL string `mapstructure:"url"`
}

type ServeSettings struct {
	Addr string `mapstructure:"addr"`
}

type MockAPISettings struct {
	Addr string `mapstructure:"addr"`
	DB   string `mapstructure:"db"`
}

type BackendSettings struct {
	// Script is the path of a scripted backend; empty uses the built-in script.
	Script string `mapstructure:"script"`
}

type Settings struct {
	Ask      AskSettings       `mapstructure:"ask"`
	Quota    QuotaSettings     `mapstructure:"quota"`
	Commands CommandsSettings  `mapstructure:"commands"`
	Feedback FeedbackSettings  `mapstructure:"feedback"`
	EventBus eventbus.Settings `mapstructure:"eventbus"`
	Serve    ServeSettings     `mapstructure:"serve"`
	MockAPI  MockAPISettings   `mapstructure:"mock-api"`
	Backend  BackendSettings   `mapstructure:"backend"`
	Log      logging.Settings  `mapstructure:"log"`
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	bus := eventbus.DefaultSettings()
	v.SetDefault("ask.min-delay", ask.DefaultMinDelay)
	v.SetDefault("ask.fragment-delay", ask.DefaultFragmentDelay)
	v.SetDefault("ask.max-message-length", ask.DefaultMaxMessageLength)
	v.SetDefault("quota.warning-margin", quota.DefaultWarningMargin)
	v.SetDefault("commands.accounts-url", "http://localhost:8081")
	v.SetDefault("commands.tours", commands.DefaultTours)
	v.SetDefault("feedback.url", "http://localhost:8081")
	v.SetDefault("eventbus.redis-enabled", bus.RedisEnabled)
	v.SetDefault("eventbus.redis-addr", bus.RedisAddr)
	v.SetDefault("eventbus.redis-group", bus.RedisGroup)
	v.SetDefault("eventbus.redis-consumer", bus.RedisConsumer)
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("mock-api.addr", ":8081")
	v.SetDefault("mock-api.db", "mock-api.db")
	v.SetDefault("backend.script", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
}

// NewViper returns a viper instance with defaults, the env binding and the config search path.
// An explicit configFile must exist; a missing file on the search path is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", configFile)
		}
		return v, nil
	}
	v.SetConfigName("convocore")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/convocore")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read convocore.yaml")
		}
	}
	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "config: decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.Ask.MinDelay < 0 || s.Ask.FragmentDelay < 0 {
		return errors.New("config: ask delays must not be negative")
	}
	if s.Ask.MaxMessageLength < 0 {
		return errors.New("config: ask.max-message-length must not be negative")
	}
	if s.Quota.WarningMargin < 0 {
		return errors.New("config: quota.warning-margin must not be negative")
	}
	if s.EventBus.RedisEnabled && strings.TrimSpace(s.EventBus.RedisAddr) == "" {
		return errors.New("config: eventbus.redis-addr is required when redis is enabled")
	}
	return nil
}
