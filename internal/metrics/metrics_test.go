package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSubmission(t *testing.T) {
	before := testutil.ToFloat64(submissions.WithLabelValues(OutcomeIneligible))

	ObserveSubmission(OutcomeIneligible)

	assert.Equal(t, before+1, testutil.ToFloat64(submissions.WithLabelValues(OutcomeIneligible)))
}

func TestObserveRetention(t *testing.T) {
	before := testutil.ToFloat64(evictions)

	ObserveRetention(3, 500)
	ObserveRetention(0, 499)

	assert.Equal(t, before+3, testutil.ToFloat64(evictions))
	assert.Equal(t, 499.0, testutil.ToFloat64(retained))
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveRead("leaderboard")
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streme_leaderboard_reads_total")
}
