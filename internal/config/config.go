package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures the backend contract for the API client: base URL and
// the configurable path templates. Templates may contain an :id or {id}
// placeholder for the room identifier; without one the id is appended as a
// trailing path segment. Values are loaded from environment variables with
// defaults matching the reference backend.
type ClientConfig struct {
	BaseURL string

	RoomsPath      string
	MyRoomsPath    string
	RoomDetailPath string
	JoinTemplate   string
	JoinMethod     string
	LeaveTemplate  string
	LeaveMethod    string

	RideRequestTemplate  string
	RideStageTemplate    string
	RideStateTemplate    string
	DispatchInfoTemplate string

	RefreshPath    string
	RequestTimeout time.Duration
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		RoomsPath:            "/api/rooms",
		RoomDetailPath:       "/api/rooms",
		JoinTemplate:         "/api/rooms/:id/join",
		JoinMethod:           "POST",
		LeaveTemplate:        "/api/rooms/:id/leave",
		LeaveMethod:          "POST",
		RideRequestTemplate:  "/api/rooms/:id/ride/request",
		RideStageTemplate:    "/api/rooms/:id/ride/stage",
		RideStateTemplate:    "/api/rooms/:id/ride-state",
		DispatchInfoTemplate: "/api/rooms/:id/ride/dispatch-info",
		RefreshPath:          "/auth/refresh",
		RequestTimeout:       10 * time.Second,
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/")

	setStringFromEnv(&cfg.RoomsPath, "ROOMS_PATH")
	setStringFromEnv(&cfg.MyRoomsPath, "MY_ROOMS_PATH")
	setStringFromEnv(&cfg.RoomDetailPath, "ROOM_DETAIL_PATH")
	setStringFromEnv(&cfg.JoinTemplate, "ROOM_JOIN_PATH")
	setMethodFromEnv(&cfg.JoinMethod, "ROOM_JOIN_METHOD", &errs)
	setStringFromEnv(&cfg.LeaveTemplate, "ROOM_LEAVE_PATH")
	setMethodFromEnv(&cfg.LeaveMethod, "ROOM_LEAVE_METHOD", &errs)

	setStringFromEnv(&cfg.RideRequestTemplate, "RIDE_REQUEST_PATH")
	setStringFromEnv(&cfg.RideStageTemplate, "RIDE_STAGE_PATH")
	setStringFromEnv(&cfg.RideStateTemplate, "RIDE_STATE_PATH")
	setStringFromEnv(&cfg.DispatchInfoTemplate, "RIDE_DISPATCH_INFO_PATH")
	setStringFromEnv(&cfg.RefreshPath, "AUTH_REFRESH_PATH")

	setDurationFromEnv(&cfg.RequestTimeout, "API_REQUEST_TIMEOUT", &errs)

	if cfg.MyRoomsPath == "" {
		cfg.MyRoomsPath = cfg.RoomsPath
	}

	return cfg, errors.Join(errs...)
}

// AgentConfig holds everything the sync agent needs beyond the API contract.
type AgentConfig struct {
	Client ClientConfig

	StatePath     string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	SocketURL    string
	PollInterval time.Duration
	MetricsAddr  string
	LogLevel     string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		StatePath:    "taxipool_state.json",
		RedisPrefix:  "taxipool:",
		KafkaTopic:   "room-transitions",
		PollInterval: 15 * time.Second,
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	client, err := LoadClientConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Client = client

	setStringFromEnv(&cfg.StatePath, "STATE_PATH")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.SocketURL, "SOCKET_URL")
	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// MockServerConfig captures tunables for the mock backend process.
type MockServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	SeatCount       int
}

func defaultMockServerConfig() MockServerConfig {
	return MockServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		SeatCount:       4,
	}
}

func LoadMockServerConfig() (MockServerConfig, error) {
	cfg := defaultMockServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setIntFromEnv(&cfg.SeatCount, "MOCK_SEAT_COUNT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.SeatCount <= 0 {
		errs = append(errs, fmt.Errorf("MOCK_SEAT_COUNT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setMethodFromEnv(target *string, key string, errs *[]error) {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return
	}
	switch v {
	case "POST", "PATCH", "DELETE":
		*target = v
	default:
		*errs = append(*errs, fmt.Errorf("invalid %s: %q (want POST, PATCH or DELETE)", key, v))
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
