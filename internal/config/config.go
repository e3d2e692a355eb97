package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brandon/onebox/pkg/types"
)

// Config holds the application configuration
type Config struct {
	// Index settings
	IndexPath         string
	SearchResultLimit int

	// HTTP API
	HTTPAddr string

	LogLevel string

	// Fetch scheduling
	LookbackDays int
	UnseenOnly   bool

	// Connection lifecycle
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ShutdownGrace        time.Duration

	// Classifier
	ClassifierURL           string
	ClassifierToken         string
	ClassifierThreshold     float64
	ClassifierMaxChars      int
	ClassifierMaxConcurrent int

	// Notifications
	SlackWebhookURL   string
	WebhookURL        string
	TriggerCategories []string

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single mailbox account
type AccountConfig struct {
	Name string

	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
	IMAPTLS      bool
	Folder       string
	Timeout      time.Duration
}

// DefaultClassifierURL is the hosted zero-shot endpoint used when none is
// configured.
const DefaultClassifierURL = "https://api-inference.huggingface.co/models/facebook/bart-large-mnli"

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		IndexPath:         getEnv("INDEX_PATH", "/data/email_index.db"),
		SearchResultLimit: getEnvInt("SEARCH_RESULT_LIMIT", 100),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8000"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		LookbackDays: getEnvInt("SYNC_LOOKBACK_DAYS", 30),
		UnseenOnly:   getEnvBool("SYNC_UNSEEN_ONLY", true),

		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectBaseDelay:   time.Duration(getEnvInt("RECONNECT_BASE_DELAY_MS", 2000)) * time.Millisecond,
		ShutdownGrace:        time.Duration(getEnvInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,

		ClassifierURL:           getEnv("CLASSIFIER_URL", DefaultClassifierURL),
		ClassifierToken:         getEnv("CLASSIFIER_TOKEN", ""),
		ClassifierThreshold:     getEnvFloat("CLASSIFIER_THRESHOLD", 0.6),
		ClassifierMaxChars:      getEnvInt("CLASSIFIER_MAX_CHARS", 2000),
		ClassifierMaxConcurrent: getEnvInt("CLASSIFIER_MAX_CONCURRENT", 4),

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
	}

	triggers := getEnv("NOTIFY_CATEGORIES", types.CategoryInterested+","+types.CategoryMeetingBooked)
	for _, c := range strings.Split(triggers, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.TriggerCategories = append(cfg.TriggerCategories, c)
		}
	}

	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts

	return cfg, nil
}

// loadAccounts loads mailbox account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration (for backward compatibility)
	if getEnv("IMAP_HOST", "") != "" {
		account, err := loadAccount("", getEnv("ACCOUNT_NAME", "default"))
		if err != nil {
			return nil, err
		}
		return append(accounts, *account), nil
	}

	// Numbered accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getEnv(prefix+"NAME", "")
		if name == "" {
			break
		}
		account, err := loadAccount(prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}
	return accounts, nil
}

// loadAccount loads one account using the given env prefix
func loadAccount(prefix, name string) (*AccountConfig, error) {
	host := getEnv(prefix+"IMAP_HOST", "")
	username := getEnv(prefix+"IMAP_USERNAME", "")
	password := getEnv(prefix+"IMAP_PASSWORD", "")

	if host == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required")
	}

	return &AccountConfig{
		Name:         name,
		IMAPHost:     host,
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPUsername: username,
		IMAPPassword: password,
		IMAPTLS:      getEnvBool(prefix+"IMAP_TLS", true),
		Folder:       getEnv(prefix+"FOLDER", "INBOX"),
		Timeout:      time.Duration(getEnvInt(prefix+"AUTH_TIMEOUT_MS", 10000)) * time.Millisecond,
	}, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as a float or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IndexPath == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	if c.ClassifierThreshold < 0 || c.ClassifierThreshold > 1 {
		return fmt.Errorf("CLASSIFIER_THRESHOLD must be between 0 and 1")
	}

	if c.ClassifierMaxConcurrent < 1 {
		return fmt.Errorf("CLASSIFIER_MAX_CONCURRENT must be at least 1")
	}

	if c.LookbackDays < 1 {
		return fmt.Errorf("SYNC_LOOKBACK_DAYS must be at least 1")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Name] {
			return fmt.Errorf("duplicate account name: %s", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.Folder == "" {
			return fmt.Errorf("account %s: FOLDER is required", acc.Name)
		}
	}

	return nil
}
