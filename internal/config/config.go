package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentConfig carries the fee schedule and defaults for outgoing payments.
// IBFT carries a flat fee; RAAST and bill payments are free.
type PaymentConfig struct {
	IBFTFee         decimal.Decimal
	DefaultCurrency string
	SettlementQueue string
	BankBIC         string
}

func LoadPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		IBFTFee:         getEnvAsDecimal("PAYMENT_IBFT_FEE", decimal.NewFromInt(15)),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "PKR"),
		SettlementQueue: getEnv("SETTLEMENT_QUEUE", "settlement_queue"),
		BankBIC:         getEnv("BANK_BIC", "DESIPKKA"),
	}
}

// QRConfig controls receive-money QR generation.
type QRConfig struct {
	TokenTTL time.Duration
	MaxSize  int
}

func LoadQRConfig() *QRConfig {
	return &QRConfig{
		TokenTTL: getEnvAsDuration("QR_TOKEN_TTL", 5*time.Minute),
		MaxSize:  getEnvAsInt("QR_IMAGE_SIZE", 256),
	}
}

// NotificationConfig points at the event broker. An empty URL disables
// publishing.
type NotificationConfig struct {
	AMQPURL  string
	Exchange string
}

func LoadNotificationConfig() *NotificationConfig {
	return &NotificationConfig{
		AMQPURL:  getEnv("AMQP_URL", ""),
		Exchange: getEnv("AMQP_EXCHANGE", "banking_events"),
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
