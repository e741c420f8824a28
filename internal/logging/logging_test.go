package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")
	l, closer, err := New(config.Log{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}, "storefront-api")
	require.NoError(t, err)

	ol := For(l, "orders")
	ol.Info().Str(Order, "ORD-1").Msg("status changed")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(b))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "storefront-api", rec[Service])
	assert.Equal(t, "orders", rec[Component])
	assert.Equal(t, "ORD-1", rec[Order])
	assert.Equal(t, "status changed", rec["message"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.Log{Level: "loud"}, "x")
	assert.Error(t, err)
}

func TestNewEmptyLevelDefaultsToInfo(t *testing.T) {
	l, closer, err := New(config.Log{}, "x")
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, "info", l.GetLevel().String())
}
