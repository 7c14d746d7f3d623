package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"unirate/internal/domain"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string

	RedisAddr string
	RedisDB   int
	RedisPass string

	AnonStore     string // redis|memory
	RemoteBackend string // mysql|supabase|memory
	MySQLDSN      string
	SupabaseURL   string
	SupabaseKey   string
	SupabaseRPS   int

	AnonPolicy      domain.Policy
	AuthPolicy      domain.Policy
	ProfileCacheTTL time.Duration

	GateRPS      int
	GateBurst    int
	AdminWorkers int
}

// Load reads the environment, after merging a .env file when one exists.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-numeric setting")
		}
		return def
	}
	secs := func(k string, def time.Duration) time.Duration {
		return time.Duration(atoi(k, int(def.Seconds()))) * time.Second
	}

	c := Config{
		AppEnv:        env("APP_ENV", "prod"),
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		MetricsAddr:   env("METRICS_ADDR", ""),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPass:     env("REDIS_PASSWORD", ""),
		RedisDB:       atoi("REDIS_DB", 0),
		AnonStore:     env("ANON_STORE", "redis"),
		RemoteBackend: env("REMOTE_BACKEND", "mysql"),
		MySQLDSN:      env("MYSQL_DSN", "root:root@tcp(localhost:3306)/unirate?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		SupabaseURL:   env("SUPABASE_URL", ""),
		SupabaseKey:   env("SUPABASE_KEY", ""),
		SupabaseRPS:   atoi("SUPABASE_RPS", 10),
		AnonPolicy: domain.Policy{
			Limit:  atoi("ANON_LIMIT", domain.DefaultPolicy.Limit),
			Window: secs("ANON_WINDOW_SECONDS", domain.DefaultPolicy.Window),
		},
		AuthPolicy: domain.Policy{
			Limit:  atoi("AUTH_LIMIT", domain.DefaultPolicy.Limit),
			Window: secs("AUTH_WINDOW_SECONDS", domain.DefaultPolicy.Window),
		},
		ProfileCacheTTL: secs("PROFILE_CACHE_TTL_SECONDS", 5*time.Minute),
		GateRPS:         atoi("GATE_RPS", 20),
		GateBurst:       atoi("GATE_BURST", 40),
		AdminWorkers:    atoi("ADMIN_WORKERS", 8),
	}
	if c.RemoteBackend == "supabase" && c.SupabaseKey == "" {
		log.Warn().Msg("SUPABASE_KEY is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
