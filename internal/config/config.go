package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr    string `yaml:"addr"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Lightning struct {
		RPCURL         string `yaml:"rpc_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"lightning"`
	Bitcoin struct {
		RPCURL         string `yaml:"rpc_url"`
		RPCUser        string `yaml:"rpc_user"`
		RPCPass        string `yaml:"rpc_pass"`
		Wallet         string `yaml:"wallet"`
		WalletPass     string `yaml:"walletpass"`
		NotifyWS       string `yaml:"notify_ws"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"bitcoin"`
	Mint struct {
		URL            string `yaml:"url"`
		Username       string `yaml:"username"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"mint"`
	Lnurl struct {
		NostrSeckey string `yaml:"nostr_seckey"`
		MinSendable int64  `yaml:"min_sendable"`
		MaxSendable int64  `yaml:"max_sendable"`
	} `yaml:"lnurl"`
	Rates struct {
		URL        string `yaml:"url"`
		TTLMinutes int    `yaml:"ttl_minutes"`
	} `yaml:"rates"`
	Ledger struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"ledger"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.Server.BaseURL == "" {
		return nil, errors.New("server.base_url is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.Redis.DB = atoiOr(cfg.Redis.DB, v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LIGHTNING_RPC_URL"); v != "" {
		cfg.Lightning.RPCURL = v
	}
	if v := os.Getenv("BITCOIN_RPC_URL"); v != "" {
		cfg.Bitcoin.RPCURL = v
	}
	if v := os.Getenv("BITCOIN_RPC_USER"); v != "" {
		cfg.Bitcoin.RPCUser = v
	}
	if v := os.Getenv("BITCOIN_RPC_PASS"); v != "" {
		cfg.Bitcoin.RPCPass = v
	}
	if v := os.Getenv("BITCOIN_WALLET"); v != "" {
		cfg.Bitcoin.Wallet = v
	}
	if v := os.Getenv("BITCOIN_WALLETPASS"); v != "" {
		cfg.Bitcoin.WalletPass = v
	}
	if v := os.Getenv("BITCOIN_NOTIFY_WS"); v != "" {
		cfg.Bitcoin.NotifyWS = v
	}
	if v := os.Getenv("MINT_URL"); v != "" {
		cfg.Mint.URL = v
	}
	if v := os.Getenv("MINT_USERNAME"); v != "" {
		cfg.Mint.Username = v
	}
	if v := os.Getenv("NOSTR_SECKEY"); v != "" {
		cfg.Lnurl.NostrSeckey = v
	}
	if v := os.Getenv("RATES_URL"); v != "" {
		cfg.Rates.URL = v
	}
	if v := os.Getenv("RATES_TTL_MINUTES"); v != "" {
		cfg.Rates.TTLMinutes = atoiOr(cfg.Rates.TTLMinutes, v)
	}
	if v := os.Getenv("LEDGER_MAX_RETRIES"); v != "" {
		cfg.Ledger.MaxRetries = atoiOr(cfg.Ledger.MaxRetries, v)
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
