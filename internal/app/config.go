package app

import (
	"os"
	"strconv"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr      string
	MetricsAddr   string
	SnapshotDir   string
	PostgresDSN   string
	CatalogPath   string
	WhatsAppPhone string
	StrictPrices  bool
	KafkaBrokers  string
}

// DefaultConfig возвращает базовые адреса и локальное файловое хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		SnapshotDir: "data/carts",
	}
}

// LoadConfig читает конфигурацию из окружения поверх DefaultConfig.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("STOREFRONT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("STOREFRONT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("STOREFRONT_SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
	if v := os.Getenv("STOREFRONT_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("STOREFRONT_CATALOG"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("STOREFRONT_WHATSAPP_PHONE"); v != "" {
		cfg.WhatsAppPhone = v
	}
	if v := os.Getenv("STOREFRONT_STRICT_PRICES"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			cfg.StrictPrices = strict
		}
	}
	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")

	return cfg
}
