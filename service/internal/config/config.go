// Package config loads process configuration from the environment, after
// reading an optional .env file.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// Config holds every setting the service and the terminal clients read.
type Config struct {
	ServerURL   string // websocket URL the online client dials
	ListenAddr  string // address the match server listens on
	QTableDir   string // directory holding <family>/<shard>.json files
	RedisURL    string // Q-table shard backend; empty means files
	DatabaseURL string // match history; empty disables recording
	JWTSecret   string
	LogLevel    logrus.Level

	TurnDuration time.Duration
	MatchWait    time.Duration
}

// Default returns the configuration used when no variables are set. The JWT
// secret is random per process.
func Default() Config {
	return Config{
		ServerURL:    "ws://localhost:8080/ws",
		ListenAddr:   ":8080",
		QTableDir:    "assets/qtable_shards",
		JWTSecret:    randomSecret(),
		LogLevel:     logrus.InfoLevel,
		TurnDuration: 30 * time.Second,
		MatchWait:    60 * time.Second,
	}
}

// Load reads .env files (a missing file is not an error) and then the
// OTP_* environment variables on top of Default.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: reading env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, mainly for tests.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("OTP_SERVER_URL", &c.ServerURL)
	str("OTP_LISTEN_ADDR", &c.ListenAddr)
	str("OTP_QTABLE_DIR", &c.QTableDir)
	str("OTP_REDIS_URL", &c.RedisURL)
	str("OTP_DATABASE_URL", &c.DatabaseURL)
	str("OTP_JWT_SECRET", &c.JWTSecret)

	if v := strings.TrimSpace(getenv("OTP_LOG_LEVEL")); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: OTP_LOG_LEVEL: %w", err)
		}
		c.LogLevel = lvl
	}

	var err error
	if c.TurnDuration, err = seconds(getenv, "OTP_TURN_SECONDS", c.TurnDuration); err != nil {
		return Config{}, err
	}
	if c.MatchWait, err = seconds(getenv, "OTP_MATCH_WAIT_SECONDS", c.MatchWait); err != nil {
		return Config{}, err
	}
	return c, nil
}

func seconds(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive number of seconds, got %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

// SigningKey derives the key used to sign reconnect tokens from the
// configured secret, so the raw secret is never used directly as an HMAC key.
func (c Config) SigningKey() []byte {
	r := hkdf.New(sha256.New, []byte(c.JWTSecret), nil, []byte("otp reconnect token v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255 blocks of output.
		panic(err)
	}
	return key
}

// NewLogger returns a logrus logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
