package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTripUpdatesURL = "https://data.calgary.ca/download/gs4m-mdc2/application%2Foctet-stream"
	DefaultAlertsURL      = "https://data.calgary.ca/download/jhgn-ynqj/application%2Foctet-stream"
)

// DefaultRelayPrefixes are tried in order after the direct path
var DefaultRelayPrefixes = []string{
	"https://corsproxy.io/?",
	"https://api.allorigins.win/raw?url=",
	"https://thingproxy.freeboard.io/fetch/",
}

type Config struct {
	Feed      FeedConfig
	Transport TransportConfig
	Board     BoardConfig
	Schedule  ScheduleConfig
	Display   DisplayConfig
	API       APIConfig
	Logging   LoggingConfig
}

type FeedConfig struct {
	TripUpdatesURL string `validate:"required,url"`
	AlertsURL      string `validate:"omitempty,url"`
	APIKey         string
	APIKeyHeader   string `validate:"required_with=APIKey"`
}

type TransportConfig struct {
	DirectEnabled   bool
	RelayPrefixes   []string      `validate:"dive,url"`
	Timeout         time.Duration `validate:"gt=0"`
	MinPayloadBytes int           `validate:"gte=0"`
	UserAgent       string        `validate:"required"`
}

// BoardConfig describes what the board tracks. It can be overridden as a
// whole by the YAML file named in BOARD_CONFIG_FILE.
type BoardConfig struct {
	WestStopID        string           `yaml:"west_stop_id" validate:"required"`
	EastStopID        string           `yaml:"east_stop_id" validate:"required,nefield=WestStopID"`
	Routes            []RouteConfig    `yaml:"routes" validate:"len=2,dive"`
	Destinations      DestinationTable `yaml:"destinations"`
	DepartureGrace    time.Duration    `yaml:"departure_grace" validate:"gte=0"`
	MaxLookahead      time.Duration    `yaml:"max_lookahead" validate:"gt=0"`
	DisplayCap        int              `yaml:"display_cap" validate:"gt=0"`
	BoardingThreshold int              `yaml:"boarding_threshold" validate:"gte=0"`
	PreferredLanguage string           `yaml:"preferred_language"`
	Containers        ContainerIDs     `yaml:"containers"`
}

// RouteConfig maps a route id pattern onto a line colour. Matching is by
// substring so "201" also matches "201-20666".
type RouteConfig struct {
	ID    string `yaml:"id" validate:"required"`
	Color string `yaml:"color" validate:"required,oneof=red blue"`
}

// DestinationTable maps line colour to destination name per direction
type DestinationTable struct {
	West map[string]string `yaml:"west" validate:"required"`
	East map[string]string `yaml:"east" validate:"required"`
}

type ContainerIDs struct {
	West string `yaml:"west" validate:"required"`
	East string `yaml:"east" validate:"required"`
}

type ScheduleConfig struct {
	PollInterval      time.Duration `validate:"gt=0"`
	FastRetryInterval time.Duration `validate:"gt=0"`
	FailureThreshold  int           `validate:"gt=0"`
}

// DisplayConfig selects the optional publishing sinks. Empty values disable them.
type DisplayConfig struct {
	LogBoard      bool
	NATSURL       string `validate:"omitempty,url"`
	NATSSubject   string `validate:"required_with=NATSURL"`
	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	RedisPrefix   string        `validate:"required_with=RedisAddr"`
	RedisTTL      time.Duration `validate:"gte=0"`
}

type APIConfig struct {
	Enabled bool
	Addr    string `validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level      string `validate:"oneof=debug info warn warning error fatal"`
	FilePath   string
	DiscordURL string `validate:"omitempty,url"`
}

// DefaultBoard is the Calgary CTrain platform pair the board was built for
func DefaultBoard() BoardConfig {
	return BoardConfig{
		WestStopID: "6822",
		EastStopID: "6831",
		Routes: []RouteConfig{
			{ID: "201", Color: "red"},
			{ID: "202", Color: "blue"},
		},
		Destinations: DestinationTable{
			West: map[string]string{"red": "Tuscany", "blue": "69 Street"},
			East: map[string]string{"red": "Somerset", "blue": "Saddletowne"},
		},
		DepartureGrace:    90 * time.Second,
		MaxLookahead:      60 * time.Minute,
		DisplayCap:        3,
		BoardingThreshold: 1,
		Containers: ContainerIDs{
			West: "westbound-list",
			East: "eastbound-list",
		},
	}
}

// Load reads configuration from the environment. A .env file is loaded when
// present; a missing one is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	board := DefaultBoard()
	if path := os.Getenv("BOARD_CONFIG_FILE"); path != "" {
		fromFile, err := LoadBoardFile(path)
		if err != nil {
			return nil, err
		}
		board = fromFile
	}
	board.DepartureGrace = getDurationEnv("DEPARTURE_GRACE", board.DepartureGrace)
	board.MaxLookahead = getDurationEnv("MAX_LOOKAHEAD", board.MaxLookahead)
	board.DisplayCap = getIntEnv("DISPLAY_CAP", board.DisplayCap)

	cfg := &Config{
		Feed: FeedConfig{
			TripUpdatesURL: getEnv("TRIP_UPDATES_URL", DefaultTripUpdatesURL),
			AlertsURL:      getEnv("ALERTS_URL", DefaultAlertsURL),
			APIKey:         getEnv("FEED_API_KEY", ""),
			APIKeyHeader:   getEnv("FEED_API_KEY_HEADER", "KeyId"),
		},
		Transport: TransportConfig{
			DirectEnabled:   getBoolEnv("TRANSPORT_DIRECT", true),
			RelayPrefixes:   getListEnv("TRANSPORT_RELAYS", DefaultRelayPrefixes),
			Timeout:         getDurationEnv("TRANSPORT_TIMEOUT", 10*time.Second),
			MinPayloadBytes: getIntEnv("TRANSPORT_MIN_PAYLOAD_BYTES", 100),
			UserAgent:       getEnv("TRANSPORT_USER_AGENT", "transitboard/1.0"),
		},
		Board: board,
		Schedule: ScheduleConfig{
			PollInterval:      getDurationEnv("POLL_INTERVAL", 30*time.Second),
			FastRetryInterval: getDurationEnv("FAST_RETRY_INTERVAL", 5*time.Second),
			FailureThreshold:  getIntEnv("FAILURE_THRESHOLD", 3),
		},
		Display: DisplayConfig{
			LogBoard:      getBoolEnv("DISPLAY_LOG", true),
			NATSURL:       getEnv("NATS_URL", ""),
			NATSSubject:   getEnv("NATS_SUBJECT", "transitboard"),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getIntEnv("REDIS_DB", 0),
			RedisPrefix:   getEnv("REDIS_PREFIX", "transitboard"),
			RedisTTL:      getDurationEnv("REDIS_TTL", 5*time.Minute),
		},
		API: APIConfig{
			Enabled: getBoolEnv("API_ENABLED", true),
			Addr:    getEnv("API_ADDR", ":8080"),
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			FilePath:   getEnv("LOG_FILE", ""),
			DiscordURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBoardFile reads a board description from YAML. Fields left out of the
// file keep their defaults.
func LoadBoardFile(path string) (BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BoardConfig{}, fmt.Errorf("failed to read board config %s: %w", path, err)
	}

	board := DefaultBoard()
	if err := yaml.Unmarshal(data, &board); err != nil {
		return BoardConfig{}, fmt.Errorf("failed to parse board config %s: %w", path, err)
	}
	return board, nil
}

// Validate checks struct tags and the rules that span several fields
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Schedule.FastRetryInterval > c.Schedule.PollInterval {
		return fmt.Errorf("invalid configuration: fast retry interval %s exceeds poll interval %s",
			c.Schedule.FastRetryInterval, c.Schedule.PollInterval)
	}
	if !c.Transport.DirectEnabled && len(c.Transport.RelayPrefixes) == 0 {
		return fmt.Errorf("invalid configuration: direct path disabled and no relays configured")
	}
	if c.Board.Routes[0].Color == c.Board.Routes[1].Color {
		return fmt.Errorf("invalid configuration: both tracked routes use colour %q", c.Board.Routes[0].Color)
	}
	for _, route := range c.Board.Routes {
		if c.Board.Destinations.West[route.Color] == "" || c.Board.Destinations.East[route.Color] == "" {
			return fmt.Errorf("invalid configuration: missing destination for %s line", route.Color)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value. "none" yields an empty list.
func getListEnv(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	if strings.EqualFold(value, "none") {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
