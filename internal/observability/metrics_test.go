package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics

	// None of these may panic when metrics are disabled.
	m.RecordAccepted("users", 10)
	m.RecordRejected("users")
	m.ArtifactOpened("users")
	m.StateForwarded()
}

func TestMetrics_Scrape(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.RecordAccepted("users", 9)
	m.RecordAccepted("users", 11)
	m.RecordRejected("orders")
	m.ArtifactOpened("users")
	m.StateForwarded()

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	body := recorder.Body.String()
	assert.Contains(t, body, `tapsink_records_accepted_total{stream="users"} 2`)
	assert.Contains(t, body, `tapsink_bytes_written_total{stream="users"} 20`)
	assert.Contains(t, body, `tapsink_records_rejected_total{stream="orders"} 1`)
	assert.Contains(t, body, `tapsink_artifact_rotations_total{stream="users"} 1`)
	assert.Contains(t, body, "tapsink_states_forwarded_total 1")
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Two runs in one process must not collide on registration.
	first := NewMetrics()
	second := NewMetrics()

	first.RecordAccepted("users", 1)
	second.RecordAccepted("users", 1)
}
