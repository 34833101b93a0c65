package telemetry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDeliversEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(body, &ev))

		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, "1.2.3")
	client.Record("update_found", map[string]string{"version": "2.0.0"})
	client.Record("update_installed", nil)
	require.NoError(t, client.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)

	assert.Equal(t, "update_found", received[0].Name)
	assert.Equal(t, "1.2.3", received[0].AppVersion)
	assert.Equal(t, "2.0.0", received[0].Properties["version"])
	assert.NotEmpty(t, received[0].ID)
	assert.False(t, received[0].Time.IsZero())

	assert.Equal(t, "update_installed", received[1].Name)
	assert.NotEqual(t, received[0].ID, received[1].ID)
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "1.2.3")
	client.Record("update_found", nil)
	assert.NoError(t, client.Close())
}

func TestEmptyEndpointDropsEvents(t *testing.T) {
	client := NewClient("", "1.2.3")
	client.Record("update_found", map[string]string{"version": "2.0.0"})
	assert.NoError(t, client.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	client := NewClient("", "1.2.3")
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}
