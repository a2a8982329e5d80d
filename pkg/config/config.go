package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Stripe  StripeConfig  `mapstructure:"stripe"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type ServerConfig struct {
	Name           string   `mapstructure:"name"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AdminConfig struct {
	Password string `mapstructure:"password"`
	Email    string `mapstructure:"email"`
}

// env maps config keys to the environment variables that feed them.
var env = map[string]string{
	"server.name":            "SERVICE_NAME",
	"server.host":            "HOST",
	"server.port":            "PORT",
	"server.allowed_origins": "ALLOWED_ORIGINS",
	"mysql.host":             "MYSQL_HOST",
	"mysql.port":             "MYSQL_PORT",
	"mysql.username":         "MYSQL_USERNAME",
	"mysql.password":         "MYSQL_PASSWORD",
	"mysql.database":         "MYSQL_DATABASE",
	"mongodb.uri":            "MONGO_URI",
	"mongodb.database":       "MONGO_DATABASE",
	"mongodb.collection":     "MONGO_COLLECTION",
	"redis.addr":             "REDIS_ADDR",
	"redis.password":         "REDIS_PASSWORD",
	"etcd.endpoints":         "ETCD_ENDPOINTS",
	"stripe.secret_key":      "STRIPE_SECRET_KEY",
	"stripe.webhook_secret":  "STRIPE_WEBHOOK_SECRET",
	"stripe.success_url":     "SUCCESS_URL",
	"stripe.cancel_url":      "CANCEL_URL",
	"smtp.host":              "SMTP_HOST",
	"smtp.port":              "SMTP_PORT",
	"smtp.username":          "SMTP_USERNAME",
	"smtp.password":          "SMTP_PASSWORD",
	"smtp.from":              "SMTP_FROM",
	"admin.password":         "ADMIN_PASSWORD",
	"admin.email":            "ADMIN_EMAIL",
}

// Load reads configuration from the environment and validates it. Missing
// required secrets fail here, before any listener or store is touched.
func Load() (*Config, error) {
	v := viper.New()

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	v.SetDefault("server.name", "bookshop-api")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mongodb.database", "bookshop")
	v.SetDefault("mongodb.collection", "webhook_audit")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("stripe.success_url", "https://shop.example.com/success.html?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "https://shop.example.com/cancel.html")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma-separated lists arrive as single strings from the environment.
	if raw := v.GetString("server.allowed_origins"); raw != "" {
		config.Server.AllowedOrigins = splitCSV(raw)
	}
	if raw := v.GetString("etcd.endpoints"); raw != "" {
		config.Etcd.Endpoints = splitCSV(raw)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports every missing required value at once so a bad deploy shows
// the full list in a single startup failure.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"STRIPE_SECRET_KEY", c.Stripe.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret},
		{"ADMIN_PASSWORD", c.Admin.Password},
		{"ADMIN_EMAIL", c.Admin.Email},
		{"MYSQL_USERNAME", c.MySQL.Username},
		{"MYSQL_PASSWORD", c.MySQL.Password},
		{"MYSQL_DATABASE", c.MySQL.Database},
		{"MONGO_URI", c.MongoDB.URI},
		{"SMTP_HOST", c.SMTP.Host},
		{"SMTP_USERNAME", c.SMTP.Username},
		{"SMTP_PASSWORD", c.SMTP.Password},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// FromAddress returns the configured sender address, defaulting to the SMTP
// username the way the original storefront mailed from its login account.
func (c *SMTPConfig) FromAddress() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
