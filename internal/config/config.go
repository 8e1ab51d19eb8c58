package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	Env           string
	DBAdapter     string
	SQLiteFile    string
	MigrationsDir string
	JwtSecret     string
	LogLevel      string
	// Session settings
	TokenLifetime  time.Duration
	CookieLifetime time.Duration
	BcryptCost     int
	QueryTimeout   time.Duration
	// Auth endpoint rate limiting; Redis is used when an address is set
	RateLimitPerMinute int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	AllowedOrigins     []string
	// Optional admin created at startup
	AdminName     string
	AdminEmail    string
	AdminPassword string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

// ParseLifetime accepts a Go duration ("36h") or a day count ("7d", "7").
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	days := strings.TrimSuffix(s, "d")
	if n, err := strconv.Atoi(days); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}

// IsProduction reports whether internal error details must be withheld.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// New reads the configuration from the environment. A .env file in the
// working directory (or ENV_FILE) is loaded first without overriding
// variables that are already set.
func New() (*Config, error) {
	envFile := getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	c := &Config{
		Port:          getenv("PORT", "8080"),
		Env:           strings.ToLower(getenv("ENV", getenv("NODE_ENV", "development"))),
		DBAdapter:     getenv("DB_ADAPTER", "sqlite"),
		SQLiteFile:    getenv("SQLITE_FILE", "./data/decodeauth.db"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./migrations"),
		JwtSecret:     getenv("JWT_SECRET", "change-me"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		RedisAddr:     getenv("RATE_LIMIT_REDIS_ADDR", ""),
		RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
		AdminName:     getenv("ADMIN_NAME", "Administrator"),
		AdminEmail:    getenv("ADMIN_EMAIL", ""),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "decode")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "decodeauth")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
	}

	origins := getenv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	var err error
	if c.TokenLifetime, err = ParseLifetime(getenv("JWT_EXPIRES_TIME", "7d")); err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_TIME: %w", err)
	}
	if c.CookieLifetime, err = ParseLifetime(getenv("COOKIE_EXPIRES_TIME", "7")); err != nil {
		return nil, fmt.Errorf("invalid COOKIE_EXPIRES_TIME: %w", err)
	}
	if c.QueryTimeout, err = time.ParseDuration(getenv("QUERY_TIMEOUT", "5s")); err != nil || c.QueryTimeout <= 0 {
		return nil, fmt.Errorf("invalid QUERY_TIMEOUT: %s", os.Getenv("QUERY_TIMEOUT"))
	}
	if c.BcryptCost, err = getint("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %d (must be 4-31)", c.BcryptCost)
	}
	if c.RateLimitPerMinute, err = getint("RATE_LIMIT_PER_MINUTE", 20); err != nil {
		return nil, err
	}
	if c.RedisDB, err = getint("RATE_LIMIT_REDIS_DB", 0); err != nil {
		return nil, err
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.IsProduction() {
		if c.JwtSecret == "" || c.JwtSecret == "change-me" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
