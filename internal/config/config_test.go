package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/pkg/events"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(events.ServicePayment)
	require.NoError(t, err)

	assert.Equal(t, "payment-service", cfg.GroupID)
	assert.Equal(t, []string{"inventory.events"}, cfg.InTopics)
	assert.Equal(t, "payment.events", cfg.OutTopic)
	assert.Equal(t, DefaultPayment(), cfg.Payment)
	assert.Empty(t, cfg.SeedStock)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PAYMENT_SUCCESS_PROBABILITY", "1")
	t.Setenv("PAYMENT_BASE_DELAY", "10ms")
	t.Setenv("PAYMENT_MAX_DELAY", "40ms")
	t.Setenv("SEED_STOCK", "product-A=10,product-B=5,product-C=0")

	cfg, err := Load(events.ServiceInventory)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 1.0, cfg.Payment.SuccessProbability)
	assert.Equal(t, 40*time.Millisecond, cfg.Payment.MaxDelay)
	assert.Equal(t, map[string]int{"product-A": 10, "product-B": 5, "product-C": 0}, cfg.SeedStock)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"PAYMENT_SUCCESS_PROBABILITY": "1.5",
		"PAYMENT_MAX_ATTEMPTS":        "0",
		"WORKERS":                     "-1",
		"SEED_STOCK":                  "product-A",
		"PAYMENT_CLAIM_TTL":           "1s",
		"PAYMENT_BASE_DELAY":          "-1s",
		"PAYMENT_MAX_DELAY":           "1000000h",
		"OUTBOX_BATCH_SIZE":           "0",
		"OUTBOX_INTERVAL":             "0s",
		"OUTBOX_LEASE":                "-5s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load(events.ServicePayment)
			assert.Error(t, err)
		})
	}
}
