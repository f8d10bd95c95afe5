package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string
	Port      string
	CORSAllow []string

	DBPath string

	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageBytes   int64
	MaxRoomMembers    int

	AutosaveInterval time.Duration
	AutosaveKeep     int
	RoomIdleTTL      time.Duration
}

// LoadConfig reads the environment, falling back to development defaults
func LoadConfig() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		Port:              getEnv("PORT", "5001"),
		CORSAllow:         splitCSV(getEnv("CORS_ALLOW", "*")),
		DBPath:            getEnv("CODENEST_DB_PATH", "./data/codenest.db"),
		SendBuffer:        getEnvInt("SEND_BUFFER", 256),
		MessagesPerSecond: float64(getEnvInt("MESSAGES_PER_SECOND", 100)),
		MessageBurst:      getEnvInt("MESSAGE_BURST", 200),
		MaxMessageBytes:   int64(getEnvInt("MAX_MESSAGE_BYTES", 1024*1024)),
		MaxRoomMembers:    getEnvInt("MAX_ROOM_MEMBERS", 0),
		AutosaveInterval:  getEnvDuration("AUTOSAVE_INTERVAL", 0),
		AutosaveKeep:      getEnvInt("AUTOSAVE_KEEP", 20),
		RoomIdleTTL:       getEnvDuration("ROOM_IDLE_TTL", 0),
	}
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return ":" + c.Port
}

// getEnv returns the env var or a default
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getEnvInt parses a non-negative int env var with a fallback
func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
