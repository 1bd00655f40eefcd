package config

import (
	"os"
	"strconv"
	"time"
)

type EscrowConfig struct {
	InspectionPeriod   time.Duration
	ExtensionPeriod    time.Duration
	MaxDescriptionLen  int
	SchedulerInterval  time.Duration
	SessionTTL         time.Duration
	BotUsername        string
	TelegramBotToken   string
	WhatsAppAPIURL     string
	WhatsAppAPIToken   string
	BlockCypherToken   string
	MpesaConsumerKey   string
	MpesaSecret        string
	MpesaPasskey       string
	MpesaShortcode     string
	MpesaBaseURL       string
	BlockCypherBaseURL string
}

func LoadEscrowConfig() *EscrowConfig {
	return &EscrowConfig{
		InspectionPeriod:   getEnvAsDuration("ESCROW_INSPECTION_PERIOD", 30*time.Minute),
		ExtensionPeriod:    getEnvAsDuration("ESCROW_EXTENSION_PERIOD", 10*time.Minute),
		MaxDescriptionLen:  getEnvAsInt("ESCROW_MAX_DESCRIPTION_LEN", 280),
		SchedulerInterval:  getEnvAsDuration("ESCROW_SCHEDULER_INTERVAL", 5*time.Second),
		SessionTTL:         getEnvAsDuration("CHAT_SESSION_TTL", 15*time.Minute),
		BotUsername:        getEnv("TELEGRAM_BOT_USERNAME", "TradeSafiBot"),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		WhatsAppAPIURL:     getEnv("WHATSAPP_API_URL", ""),
		WhatsAppAPIToken:   getEnv("WHATSAPP_API_TOKEN", ""),
		BlockCypherToken:   getEnv("BLOCKCYPHER_API_KEY", ""),
		MpesaConsumerKey:   getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaSecret:        getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaPasskey:       getEnv("MPESA_PASSKEY", ""),
		MpesaShortcode:     getEnv("MPESA_SHORTCODE", ""),
		MpesaBaseURL:       getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		BlockCypherBaseURL: getEnv("BLOCKCYPHER_BASE_URL", "https://api.blockcypher.com/v1/btc/main"),
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
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
