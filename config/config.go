package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	BackendHTTP   = "http"
	BackendAgones = "agones"

	LedgerMemory = "memory"
	LedgerRedis  = "redis"
	LedgerAgones = "agones"
)

type Config struct {
	// Core options consumed by the orchestrator.
	Local       bool
	FleetName   string
	Credentials string

	Backend         string
	APIURL          string
	TargetNamespace string
	Target          string
	ConnectTimeout  time.Duration
	AuthTimeout     time.Duration
	MetricsPort     int
	LogLevel        string

	// Pub/Sub driven headless clients.
	GoogleProjectID  string
	CredentialsFile  string
	JoinSubscription string
	ResultTopic      string

	// NATS alternative to Pub/Sub.
	NATSURL       string
	JoinSubject   string
	JoinQueue     string
	ResultSubject string

	// Game server side.
	ListenPort     int
	PublicIP       string
	GameServerName string
	Capacity       int
	Ledger         string
	RedisAddr      string
	RedisDB        int
	RejectGrace    time.Duration
	ReservationTTL time.Duration
	LocalAPIPort   int
	AgonesSDK      bool
}

func Load() *Config {
	cfg := &Config{
		Local:            getEnvBool("MATCHMAKER_LOCAL", false),
		FleetName:        strings.TrimSpace(getEnv("MATCHMAKER_FLEET_NAME", "fleet-123")),
		Credentials:      strings.TrimSpace(os.Getenv("MATCHMAKER_CREDENTIALS")),
		Backend:          strings.ToLower(strings.TrimSpace(getEnv("MATCHMAKER_BACKEND", BackendHTTP))),
		APIURL:           strings.TrimSpace(getEnv("MATCHMAKER_API_URL", "http://localhost:7778")),
		TargetNamespace:  strings.TrimSpace(getEnv("TARGET_NAMESPACE", "default")),
		Target:           strings.TrimSpace(os.Getenv("MATCHMAKER_TARGET")),
		ConnectTimeout:   getEnvDuration("MATCHMAKER_CONNECT_TIMEOUT", 10*time.Second),
		AuthTimeout:      getEnvDuration("MATCHMAKER_AUTH_TIMEOUT", 10*time.Second),
		MetricsPort:      getEnvInt("MATCHMAKER_METRICS_PORT", 8080),
		LogLevel:         strings.TrimSpace(getEnv("MATCHMAKER_LOG_LEVEL", "info")),
		CredentialsFile:  strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("MATCHMAKER_GSA_CREDENTIALS"))),
		JoinSubscription: strings.TrimSpace(os.Getenv("JOIN_REQUEST_SUBSCRIPTION")),
		ResultTopic:      strings.TrimSpace(os.Getenv("ATTEMPT_RESULT_TOPIC")),
		NATSURL:          strings.TrimSpace(os.Getenv("NATS_URL")),
		JoinSubject:      strings.TrimSpace(getEnv("JOIN_REQUEST_SUBJECT", "matchmaker.join")),
		JoinQueue:        strings.TrimSpace(getEnv("JOIN_REQUEST_QUEUE", "matchclients")),
		ResultSubject:    strings.TrimSpace(getEnv("ATTEMPT_RESULT_SUBJECT", "matchmaker.results")),

		ListenPort:     getEnvInt("GAMESERVER_PORT", 7777),
		PublicIP:       strings.TrimSpace(getEnv("GAMESERVER_PUBLIC_IP", "127.0.0.1")),
		GameServerName: strings.TrimSpace(os.Getenv("GAMESERVER_NAME")),
		Capacity:       getEnvInt("GAMESERVER_CAPACITY", 16),
		Ledger:         strings.ToLower(strings.TrimSpace(getEnv("GAMESERVER_LEDGER", LedgerMemory))),
		RedisAddr:      strings.TrimSpace(os.Getenv("GAMESERVER_REDIS_ADDR")),
		RedisDB:        getEnvInt("GAMESERVER_REDIS_DB", 0),
		RejectGrace:    getEnvDuration("GAMESERVER_REJECT_GRACE", time.Second),
		ReservationTTL: getEnvDuration("GAMESERVER_RESERVATION_TTL", time.Minute),
		LocalAPIPort:   getEnvInt("GAMESERVER_LOCAL_API_PORT", 7778),
		AgonesSDK:      getEnvBool("GAMESERVER_AGONES_SDK", false),
	}

	if cfg.JoinSubscription != "" || cfg.ResultTopic != "" {
		cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("MATCHMAKER_PUBSUB_PROJECT_ID", "")))
		if cfg.GoogleProjectID == "" {
			log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or MATCHMAKER_PUBSUB_PROJECT_ID")
		}
	}
	if cfg.FleetName == "" {
		log.Warn().Msg("fleet name not set; set MATCHMAKER_FLEET_NAME")
	}
	return cfg
}

// Validate reports configuration that cannot work at all.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHTTP, BackendAgones:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Ledger {
	case LedgerMemory, LedgerAgones:
	case LedgerRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("ledger %q requires GAMESERVER_REDIS_ADDR", c.Ledger)
		}
	default:
		return fmt.Errorf("unknown ledger %q", c.Ledger)
	}
	if c.Ledger == LedgerAgones && c.GameServerName == "" {
		return fmt.Errorf("ledger %q requires GAMESERVER_NAME", c.Ledger)
	}
	if c.FleetName == "" {
		return fmt.Errorf("missing fleet name")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.ListenPort))
}

func (c *Config) LocalAPIAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.LocalAPIPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"local":               c.Local,
		"fleetName":           c.FleetName,
		"backend":             c.Backend,
		"apiURL":              c.APIURL,
		"targetNamespace":     c.TargetNamespace,
		"target":              c.Target,
		"connectTimeout":      c.ConnectTimeout.String(),
		"authTimeout":         c.AuthTimeout.String(),
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"credentialsProvided": c.Credentials != "",
		"projectID":           c.GoogleProjectID,
		"joinSubscription":    c.JoinSubscription,
		"resultTopic":         c.ResultTopic,
		"natsConfigured":      c.NATSURL != "",
		"joinSubject":         c.JoinSubject,
		"resultSubject":       c.ResultSubject,
		"listenPort":          c.ListenPort,
		"publicIP":            c.PublicIP,
		"gameServerName":      c.GameServerName,
		"capacity":            c.Capacity,
		"ledger":              c.Ledger,
		"redisAddr":           c.RedisAddr,
		"rejectGrace":         c.RejectGrace.String(),
		"reservationTTL":      c.ReservationTTL.String(),
		"agonesSDK":           c.AgonesSDK,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		fmt.Printf("invalid int for %s: %s\n", key, v)
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b
		}
		fmt.Printf("invalid bool for %s: %s\n", key, v)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil && d > 0 {
			return d
		}
		fmt.Printf("invalid duration for %s: %s\n", key, v)
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", err
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}

	// 3) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT")); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	// 4) Fallback to provided credentials file path (MATCHMAKER_GSA_CREDENTIALS)
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
