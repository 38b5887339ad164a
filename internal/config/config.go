package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BotToken string  `envconfig:"BOT_TOKEN" required:"true"`
	AdminIDs []int64 `envconfig:"ADMIN_IDS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	CryptoPayToken   string `envconfig:"CRYPTOPAY_TOKEN"`
	CryptoPayAsset   string `envconfig:"CRYPTOPAY_ASSET" default:"USDT"`
	YooMoneyToken    string `envconfig:"YOOMONEY_TOKEN"`
	YooMoneyReceiver string `envconfig:"YOOMONEY_RECEIVER"`

	WGEndpointHost string `envconfig:"WG_SERVER_PUBLIC_IP" default:"127.0.0.1"`
	WGEndpointPort int    `envconfig:"WG_SERVER_PORT" default:"51820"`
	WGServerPubKey string `envconfig:"WG_SERVER_PUBLIC_KEY"`
	WGInterface    string `envconfig:"WG_INTERFACE" default:"wg0"`
	OVPNRemoteHost string `envconfig:"OVPN_REMOTE_HOST" default:"127.0.0.1"`
	OVPNRemotePort int    `envconfig:"OVPN_REMOTE_PORT" default:"1194"`
	OVPNCACert     string `envconfig:"OVPN_CA_CERT"`
	OVPNTLSAuthKey string `envconfig:"OVPN_TLS_AUTH_KEY"`

	Plan1MonthPrice  int64 `envconfig:"PLAN_1_MONTH_PRICE" default:"299"`
	Plan3MonthPrice  int64 `envconfig:"PLAN_3_MONTH_PRICE" default:"799"`
	Plan6MonthPrice  int64 `envconfig:"PLAN_6_MONTH_PRICE" default:"1499"`
	Plan12MonthPrice int64 `envconfig:"PLAN_12_MONTH_PRICE" default:"2699"`

	ReferralPercent int64         `envconfig:"REFERRAL_PERCENT" default:"10"`
	PendingOrderTTL time.Duration `envconfig:"PENDING_ORDER_TTL" default:"15m"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

// Load reads config.env first (missing file is fine) and then the process
// environment, which always wins.
func Load() (*Config, error) {
	_ = godotenv.Load("config.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.ReferralPercent < 0 || cfg.ReferralPercent > 100 {
		return nil, fmt.Errorf("REFERRAL_PERCENT out of range: %d", cfg.ReferralPercent)
	}
	return &cfg, nil
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
