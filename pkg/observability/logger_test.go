package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:       LogLevelInfo,
		Format:      LogFormatJSON,
		Output:      &buf,
		ServiceName: "pauta",
	})

	logger.Info("sync cycle started", "batch_size", 50)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sync cycle started", entry["msg"])
	assert.Equal(t, "pauta", entry["service"])
	assert.Equal(t, float64(50), entry["batch_size"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:  LogLevelWarn,
		Format: LogFormatText,
		Output: &buf,
	})

	logger.Info("should be filtered")
	assert.Empty(t, buf.String())

	logger.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestLogger_CorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:  LogLevelInfo,
		Format: LogFormatJSON,
		Output: &buf,
	})

	ctx := WithCorrelationID(context.Background(), "corr-123")
	logger.InfoContext(ctx, "handled event")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-123", entry[CorrelationIDKey])
}

func TestLogger_OwnerIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:  LogLevelInfo,
		Format: LogFormatJSON,
		Output: &buf,
	})

	ownerID := uuid.New()
	ctx := WithOwnerID(context.Background(), ownerID)
	logger.InfoContext(ctx, "reconciling owner batch")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, ownerID.String(), entry[OwnerIDKey])
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")

	id := CorrelationIDFromContext(ctx)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}
