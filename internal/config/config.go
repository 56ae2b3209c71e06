package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	OutputDir string

	MailProvider    string
	MailLabel       string
	SenderPatterns  []string
	SubjectPatterns []string
	LookbackDays    int
	UnreadOnly      bool
	MarkSeen        bool
	FetchMax        int
	FetchTimeoutMs  int
	RetryAttempts   int
	RetryBackoffMs  int

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	MatchFloorThreshold float64
	MatchTopK           int

	DefaultCurrency string

	ScanCooldownSec     int
	ListenerIntervalSec int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		MailProvider:    getEnv("MAIL_PROVIDER", "imap"),
		MailLabel:       getEnv("MAIL_LABEL", "INBOX"),
		SenderPatterns:  getEnvList("MAIL_SENDER_PATTERNS", "tcgplayer"),
		SubjectPatterns: getEnvList("MAIL_SUBJECT_PATTERNS", "have sold,order"),
		LookbackDays:    getEnvInt("MAIL_LOOKBACK_DAYS", 14),
		UnreadOnly:      getEnvBool("MAIL_UNREAD_ONLY", false),
		MarkSeen:        getEnvBool("MAIL_MARK_SEEN", false),
		FetchMax:        getEnvInt("MAIL_FETCH_MAX", 50),
		FetchTimeoutMs:  getEnvInt("MAIL_FETCH_TIMEOUT_MS", 30000),
		RetryAttempts:   getEnvInt("MAIL_RETRY_ATTEMPTS", 3),
		RetryBackoffMs:  getEnvInt("MAIL_RETRY_BACKOFF_MS", 500),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		MatchFloorThreshold: getEnvFloat("MATCH_FLOOR_THRESHOLD", 0.55),
		MatchTopK:           getEnvInt("MATCH_TOP_K", 5),

		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),

		ScanCooldownSec:     getEnvInt("SCAN_COOLDOWN_SEC", 60),
		ListenerIntervalSec: getEnvInt("LISTENER_INTERVAL_SEC", 300),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
