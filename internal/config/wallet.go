package config

import (
	"os"
	"strconv"
	"time"
)

type WalletConfig struct {
	BalanceCeiling      int64
	MaxPasswordFailures int
	LockoutDuration     time.Duration
	ConflictRetries     int
	ReferencePrefix     string
	NotifyQueue         string
	OverdueSweepSpec    string
	HistoryPageSize     int
}

func LoadWalletConfig() *WalletConfig {
	return &WalletConfig{
		BalanceCeiling:      getEnvAsInt64("WALLET_BALANCE_CEILING", 10_000_000), // 100000.00 in minor units
		MaxPasswordFailures: getEnvAsInt("WALLET_MAX_PASSWORD_FAILURES", 3),
		LockoutDuration:     getEnvAsDuration("WALLET_LOCKOUT_DURATION", 1*time.Hour),
		ConflictRetries:     getEnvAsInt("WALLET_CONFLICT_RETRIES", 3),
		ReferencePrefix:     getEnv("WALLET_REFERENCE_PREFIX", "WT"),
		NotifyQueue:         getEnv("WALLET_NOTIFY_QUEUE", "wallet_notifications"),
		OverdueSweepSpec:    getEnv("BILL_OVERDUE_SWEEP_SPEC", "@hourly"),
		HistoryPageSize:     getEnvAsInt("WALLET_HISTORY_PAGE_SIZE", 20),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
