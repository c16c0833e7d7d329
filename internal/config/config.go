package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Gmail          GmailConfig          `mapstructure:"gmail"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Classification ClassificationConfig `mapstructure:"classification"`
	HistorySync    HistorySyncConfig    `mapstructure:"history_sync"`
	Reminders      ReminderConfig       `mapstructure:"reminders"`
	Notifier       NotifierConfig       `mapstructure:"notifier"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path is the sqlite file, ":memory:" for an in-process database.
	Path string `mapstructure:"path"`
}

// GmailConfig holds mailbox access configuration for both Gmail API and IMAP
type GmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPMailbox  string `mapstructure:"imap_mailbox"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes  int    `mapstructure:"interval_minutes"`
	ReminderSchedule string `mapstructure:"reminder_schedule"`
	SyncSweepMinutes int    `mapstructure:"sync_sweep_minutes"`
	AutoStart        bool   `mapstructure:"auto_start"`
}

// ClassificationConfig tunes the matcher and router
type ClassificationConfig struct {
	PublicDomains []string `mapstructure:"public_domains"`
	CourtDomains  []string `mapstructure:"court_domains"`
}

// HistorySyncConfig bounds the historical backfill worker
type HistorySyncConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	PageSize    int           `mapstructure:"page_size"`
	MaxMessages int           `mapstructure:"max_messages"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

// ReminderConfig holds the document request escalation schedule
type ReminderConfig struct {
	FirstDay     int    `mapstructure:"first_day"`
	SecondDay    int    `mapstructure:"second_day"`
	DailyFrom    int    `mapstructure:"daily_from"`
	MaxAgeDays   int    `mapstructure:"max_age_days"`
	MaxReminders int    `mapstructure:"max_reminders"`
	Timezone     string `mapstructure:"timezone"`
}

// NotifierConfig selects the outbound mail backend used for document requests
type NotifierConfig struct {
	Provider       string `mapstructure:"provider"`
	From           string `mapstructure:"from"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	ResendAPIKey   string `mapstructure:"resend_api_key"`
}

// LoadConfig loads configuration from a .env file, environment variables and config file.
// An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment")
	}

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "case-mail-router.db")

	viper.SetDefault("gmail.enabled", true)
	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)
	viper.SetDefault("gmail.imap_mailbox", "INBOX")

	viper.SetDefault("scheduler.interval_minutes", 5)
	viper.SetDefault("scheduler.reminder_schedule", "0 0 9 * * *")
	viper.SetDefault("scheduler.sync_sweep_minutes", 10)
	viper.SetDefault("scheduler.auto_start", true)

	viper.SetDefault("classification.public_domains", DefaultPublicDomains)
	viper.SetDefault("classification.court_domains", []string{})

	viper.SetDefault("history_sync.workers", 3)
	viper.SetDefault("history_sync.queue_size", 100)
	viper.SetDefault("history_sync.page_size", 100)
	viper.SetDefault("history_sync.max_messages", 500)
	viper.SetDefault("history_sync.job_timeout", "10m")
	viper.SetDefault("history_sync.max_attempts", 3)
	viper.SetDefault("history_sync.base_backoff", "1s")

	viper.SetDefault("reminders.first_day", 3)
	viper.SetDefault("reminders.second_day", 7)
	viper.SetDefault("reminders.daily_from", 8)
	viper.SetDefault("reminders.max_age_days", 30)
	viper.SetDefault("reminders.max_reminders", 0)
	viper.SetDefault("reminders.timezone", "Europe/Bucharest")

	viper.SetDefault("notifier.provider", "log")
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("log.level", "LOG_LEVEL")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")
	viper.BindEnv("database.path", "DB_PATH")

	// Gmail
	viper.BindEnv("gmail.enabled", "GMAIL_ENABLED")
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")
	viper.BindEnv("gmail.imap_mailbox", "GMAIL_IMAP_MAILBOX")

	// Scheduler
	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.reminder_schedule", "SCHEDULER_REMINDER_SCHEDULE")
	viper.BindEnv("scheduler.sync_sweep_minutes", "SCHEDULER_SYNC_SWEEP_MINUTES")
	viper.BindEnv("scheduler.auto_start", "SCHEDULER_AUTO_START")

	// Classification
	viper.BindEnv("classification.public_domains", "CLASSIFICATION_PUBLIC_DOMAINS")
	viper.BindEnv("classification.court_domains", "CLASSIFICATION_COURT_DOMAINS")

	// History sync
	viper.BindEnv("history_sync.workers", "HISTORY_SYNC_WORKERS")
	viper.BindEnv("history_sync.max_messages", "HISTORY_SYNC_MAX_MESSAGES")
	viper.BindEnv("history_sync.job_timeout", "HISTORY_SYNC_JOB_TIMEOUT")
	viper.BindEnv("history_sync.max_attempts", "HISTORY_SYNC_MAX_ATTEMPTS")

	// Reminders
	viper.BindEnv("reminders.max_age_days", "REMINDERS_MAX_AGE_DAYS")
	viper.BindEnv("reminders.max_reminders", "REMINDERS_MAX_REMINDERS")
	viper.BindEnv("reminders.timezone", "REMINDERS_TIMEZONE")

	// Notifier
	viper.BindEnv("notifier.provider", "NOTIFIER_PROVIDER")
	viper.BindEnv("notifier.from", "NOTIFIER_FROM")
	viper.BindEnv("notifier.sendgrid_api_key", "SENDGRID_API_KEY")
	viper.BindEnv("notifier.resend_api_key", "RESEND_API_KEY")
}

// DefaultPublicDomains are free mail providers whose domain says nothing about a client.
var DefaultPublicDomains = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "yahoo.ro", "outlook.com",
	"hotmail.com", "live.com", "icloud.com", "me.com", "proton.me", "protonmail.com",
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "sqlite":
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Location resolves the configured reminder time zone
func (c *ReminderConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reminders timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Gmail.Enabled {
		if !c.Gmail.UseIMAP {
			if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
				return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
			}
		} else {
			if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
				return fmt.Errorf("IMAP credentials are required when using IMAP")
			}
		}
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.HistorySync.Workers <= 0 {
		return fmt.Errorf("history sync workers must be greater than 0")
	}
	if c.HistorySync.MaxAttempts <= 0 {
		return fmt.Errorf("history sync max attempts must be greater than 0")
	}

	r := c.Reminders
	if r.FirstDay <= 0 || r.SecondDay <= r.FirstDay || r.DailyFrom <= r.SecondDay {
		return fmt.Errorf("reminder days must be increasing: first=%d second=%d daily_from=%d",
			r.FirstDay, r.SecondDay, r.DailyFrom)
	}
	if _, err := r.Location(); err != nil {
		return err
	}

	switch strings.ToLower(c.Notifier.Provider) {
	case "log", "gmail":
	case "sendgrid":
		if c.Notifier.SendGridAPIKey == "" {
			return fmt.Errorf("sendgrid api key is required")
		}
	case "resend":
		if c.Notifier.ResendAPIKey == "" {
			return fmt.Errorf("resend api key is required")
		}
	default:
		return fmt.Errorf("unsupported notifier provider %q", c.Notifier.Provider)
	}

	return nil
}
