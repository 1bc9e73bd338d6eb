package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string          `json:"environment"`
	Database    DatabaseConfig  `json:"database"`
	Server      ServerConfig    `json:"server"`
	Redis       RedisConfig     `json:"redis"`
	Chain       ChainConfig     `json:"chain"`
	Paymaster   PaymasterConfig `json:"paymaster"`
	Security    SecurityConfig  `json:"security"`
	Checkout    CheckoutConfig  `json:"checkout"`
}

type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"dbname"`
	SSLMode      string        `json:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
	MaxIdleTime  time.Duration `json:"max_idle_time"`
}

type ServerConfig struct {
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxHeaderBytes int           `json:"max_header_bytes"`
}

type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
	PoolSize int           `json:"pool_size"`
	MinIdle  int           `json:"min_idle"`
}

// ChainConfig describes the settlement chain and token. The defaults
// target USDC, which carries its EIP-712 domain name and version on
// chain as "USD Coin" / "2".
type ChainConfig struct {
	RPCURL           string        `json:"rpc_url"`
	ChainID          int64         `json:"chain_id"`
	TokenAddress     string        `json:"token_address"`
	TokenName        string        `json:"token_name"`
	TokenVersion     string        `json:"token_version"`
	TokenSymbol      string        `json:"token_symbol"`
	TokenDecimals    int           `json:"token_decimals"`
	TreasuryAddress  string        `json:"treasury_address"`
	OperatorKey      string        `json:"operator_key"`
	TransferGasLimit uint64        `json:"transfer_gas_limit"`
	ReceiptAttempts  int           `json:"receipt_attempts"`
	ReceiptInterval  time.Duration `json:"receipt_interval"`
}

type PaymasterConfig struct {
	Enabled    bool          `json:"enabled"`
	URL        string        `json:"url"`
	APIKey     string        `json:"api_key"`
	EntryPoint string        `json:"entry_point"`
	Timeout    time.Duration `json:"timeout"`
}

type SecurityConfig struct {
	JWTSecret        string        `json:"jwt_secret"`
	JWTExpiration    time.Duration `json:"jwt_expiration"`
	RateLimitEnabled bool          `json:"rate_limit_enabled"`
	RateLimitRPS     float64       `json:"rate_limit_rps"`
	RateLimitBurst   int           `json:"rate_limit_burst"`
}

type CheckoutConfig struct {
	SessionTTL       time.Duration `json:"session_ttl"`
	SessionRetention time.Duration `json:"session_retention"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	IdempotencyTTL   time.Duration `json:"idempotency_ttl"`
	MaxBatchSize     int           `json:"max_batch_size"`
	BatchGroupSize   int           `json:"batch_group_size"`
	BatchGroupDelay  time.Duration `json:"batch_group_delay"`
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()

	config.setServiceDefaults()

	config.setEnvironmentDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Redis.Port = p
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if rpcURL := os.Getenv("CHAIN_RPC_URL"); rpcURL != "" {
		c.Chain.RPCURL = rpcURL
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			c.Chain.ChainID = id
		}
	}
	if token := os.Getenv("TOKEN_ADDRESS"); token != "" {
		c.Chain.TokenAddress = token
	}
	if treasury := os.Getenv("TREASURY_ADDRESS"); treasury != "" {
		c.Chain.TreasuryAddress = treasury
	}
	if key := os.Getenv("OPERATOR_PRIVATE_KEY"); key != "" {
		c.Chain.OperatorKey = key
	}

	if url := os.Getenv("PAYMASTER_URL"); url != "" {
		c.Paymaster.URL = url
		c.Paymaster.Enabled = true
	}
	if apiKey := os.Getenv("PAYMASTER_API_KEY"); apiKey != "" {
		c.Paymaster.APIKey = apiKey
	}
	if entryPoint := os.Getenv("PAYMASTER_ENTRY_POINT"); entryPoint != "" {
		c.Paymaster.EntryPoint = entryPoint
	}

	if serverPort := os.Getenv("SERVER_PORT"); serverPort != "" {
		c.Server.Port = serverPort
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Security.JWTSecret = jwtSecret
	}
}

func (c *Config) setServiceDefaults() {
	if c.Chain.TokenName == "" {
		c.Chain.TokenName = "USD Coin"
	}
	if c.Chain.TokenVersion == "" {
		c.Chain.TokenVersion = "2"
	}
	if c.Chain.TokenSymbol == "" {
		c.Chain.TokenSymbol = "USDC"
	}
	if c.Chain.TokenDecimals == 0 {
		c.Chain.TokenDecimals = 6
	}
	if c.Chain.TransferGasLimit == 0 {
		c.Chain.TransferGasLimit = 90000
	}
	if c.Chain.ReceiptAttempts == 0 {
		c.Chain.ReceiptAttempts = 30
	}
	if c.Chain.ReceiptInterval == 0 {
		c.Chain.ReceiptInterval = 2 * time.Second
	}

	if c.Paymaster.Timeout == 0 {
		c.Paymaster.Timeout = 5 * time.Second
	}

	if c.Checkout.SessionTTL == 0 {
		c.Checkout.SessionTTL = 15 * time.Minute
	}
	if c.Checkout.SessionRetention == 0 {
		c.Checkout.SessionRetention = 24 * time.Hour
	}
	if c.Checkout.SweepInterval == 0 {
		c.Checkout.SweepInterval = time.Minute
	}
	if c.Checkout.IdempotencyTTL == 0 {
		c.Checkout.IdempotencyTTL = 24 * time.Hour
	}
	if c.Checkout.MaxBatchSize == 0 {
		c.Checkout.MaxBatchSize = 20
	}
	if c.Checkout.BatchGroupSize == 0 {
		c.Checkout.BatchGroupSize = 5
	}
	if c.Checkout.BatchGroupDelay == 0 {
		c.Checkout.BatchGroupDelay = 500 * time.Millisecond
	}

	if c.Security.JWTExpiration == 0 {
		c.Security.JWTExpiration = 24 * time.Hour
	}
}

func (c *Config) setEnvironmentDefaults() {
	switch c.Environment {
	case "production":
		c.setProductionDefaults()
	case "staging":
		c.setStagingDefaults()
	default: // development
		c.setDevelopmentDefaults()
	}
}

func (c *Config) setDevelopmentDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 1000.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 2000
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 500
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 50
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 12 * time.Hour
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 500.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 1000
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 1000
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 100
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = 10 * time.Minute
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdle == 0 {
		c.Redis.MinIdle = 10
	}
	if c.Paymaster.Timeout > 3*time.Second {
		c.Paymaster.Timeout = 3 * time.Second
	}
	if c.Security.RateLimitRPS == 0 {
		c.Security.RateLimitRPS = 100.0
	}
	if c.Security.RateLimitBurst == 0 {
		c.Security.RateLimitBurst = 200
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
