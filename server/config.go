package server

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the daemon's environment-driven configuration. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EthRPCURL     string
	ContractAddr  string
	TokenAddr     string
	PrivKeyHex    string
	ChainID       int64
	TokenDecimals int

	AgentURL string

	MinStake int64
	MaxStake int64
	FeeBps   int64

	DebugLevel string
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		EthRPCURL:     getEnv("ETH_RPC_URL", "http://localhost:8545"),
		ContractAddr:  getEnv("WAGER_CONTRACT_ADDR", ""),
		TokenAddr:     getEnv("STAKE_TOKEN_ADDR", ""),
		PrivKeyHex:    getEnv("ETH_PRIVATE_KEY", ""),
		AgentURL:      getEnv("ESCROW_AGENT_URL", "http://localhost:3001"),
		DebugLevel:    getEnv("DEBUG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	chainID, err := getEnvInt("ETH_CHAIN_ID", 31337)
	if err != nil {
		return nil, err
	}
	cfg.ChainID = int64(chainID)
	if cfg.TokenDecimals, err = getEnvInt("TOKEN_DECIMALS", 6); err != nil {
		return nil, err
	}
	minStake, err := getEnvInt("MIN_STAKE", 1)
	if err != nil {
		return nil, err
	}
	maxStake, err := getEnvInt("MAX_STAKE", 10)
	if err != nil {
		return nil, err
	}
	feeBps, err := getEnvInt("FEE_BPS", 25)
	if err != nil {
		return nil, err
	}
	cfg.MinStake, cfg.MaxStake, cfg.FeeBps = int64(minStake), int64(maxStake), int64(feeBps)

	if cfg.MinStake <= 0 || cfg.MaxStake < cfg.MinStake {
		return nil, fmt.Errorf("bad stake bounds MIN_STAKE=%d MAX_STAKE=%d", cfg.MinStake, cfg.MaxStake)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}
