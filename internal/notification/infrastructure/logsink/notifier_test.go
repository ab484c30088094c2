package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/internal/notification/domain"
)

func TestNotifierLogsStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), domain.Notification{
		EventID: "e-1", OrderID: "o-1", Kind: domain.KindOrderCompleted, Subject: "Order confirmed", Body: "ok",
	}))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Order confirmed", rec["msg"])
	assert.Equal(t, "o-1", rec["order_id"])
	assert.Equal(t, "order-completed", rec["kind"])
	assert.Equal(t, "notifier", rec["component"])
}
