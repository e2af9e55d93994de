package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	DBMaxConns              int `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns              int `env:"DB_MIN_CONNS" envDefault:"1"`
	DBMaxConnLifetimeMin    int `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"30"`
	DBMaxConnIdleMin        int `env:"DB_MAX_CONN_IDLE_MINUTES" envDefault:"5"`
	DBConnectTimeoutSeconds int `env:"DB_CONNECT_TIMEOUT_SECONDS" envDefault:"5"`

	// Proveedor de identidad remoto (estilo GoTrue). Si AuthBaseURL está
	// vacío se usa el proveedor local con JWT propios.
	AuthBaseURL string `env:"AUTH_BASE_URL"`
	AuthAPIKey  string `env:"AUTH_API_KEY"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	ReconcileWaitAttempts   int  `env:"RECONCILE_WAIT_ATTEMPTS" envDefault:"10"`
	ReconcileWaitIntervalMS int  `env:"RECONCILE_WAIT_INTERVAL_MS" envDefault:"500"`
	RecoveryWaitAttempts    int  `env:"RECOVERY_WAIT_ATTEMPTS" envDefault:"20"`
	RecoveryWaitIntervalMS  int  `env:"RECOVERY_WAIT_INTERVAL_MS" envDefault:"500"`
	MigrateOnStart          bool `env:"MIGRATE_ON_START" envDefault:"true"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
