package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain config: %w", err)
	}

	if err := c.Paymaster.Validate(); err != nil {
		return fmt.Errorf("paymaster config: %w", err)
	}

	if c.IsProduction() && c.Security.JWTSecret == "" {
		return fmt.Errorf("security config: JWT secret is required in production")
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required - set CHAIN_RPC_URL environment variable")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain ID is required - set CHAIN_ID environment variable")
	}
	if !isHexAddress(c.TokenAddress) {
		return fmt.Errorf("settlement token address is required - set TOKEN_ADDRESS environment variable")
	}
	if !isHexAddress(c.TreasuryAddress) {
		return fmt.Errorf("treasury address is required - set TREASURY_ADDRESS environment variable")
	}
	if c.OperatorKey == "" {
		return fmt.Errorf("operator private key is required - set OPERATOR_PRIVATE_KEY environment variable")
	}
	return nil
}

func (c *PaymasterConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("URL is required when sponsorship is enabled - set PAYMASTER_URL environment variable")
	}
	if c.EntryPoint != "" && !isHexAddress(c.EntryPoint) {
		return fmt.Errorf("entry point must be a hex address")
	}
	return nil
}

func isHexAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x")
}
