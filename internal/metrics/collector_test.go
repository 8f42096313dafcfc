package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/health", 200, 10*time.Millisecond)
	c.RecordHTTPRequest("GET", "/health", 200, 20*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/v1/tasks", 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/tasks", "5xx")))
}

func TestCollector_RecordClaim(t *testing.T) {
	c := newTestCollector(t)

	c.RecordClaim("won", time.Millisecond)
	c.RecordClaim("lost", time.Millisecond)
	c.RecordClaim("lost", 2*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.claimsTotal.WithLabelValues("won")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.claimsTotal.WithLabelValues("lost")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.claimDuration))
}

func TestCollector_GovernanceAndTrust(t *testing.T) {
	c := newTestCollector(t)

	c.RecordBreakerTrip("budget_exhausted")
	c.RecordCost("swarm-a", 2.5)
	c.RecordCost("swarm-a", -1) // 负值被忽略
	c.RecordCredentialValidation("expired")
	c.RecordSignatureVerification("valid", true)
	c.RecordTaskTransition("unclaimed", "claimed")
	c.RecordEscalation("coordinator")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerTrips.WithLabelValues("budget_exhausted")))
	assert.Equal(t, 2.5, testutil.ToFloat64(c.costTotal.WithLabelValues("swarm-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.credentialValidations.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signatureVerifications.WithLabelValues("valid", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskTransitions.WithLabelValues("unclaimed", "claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalationsTotal.WithLabelValues("coordinator")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		c.RecordClaim("won", time.Millisecond)
		c.RecordBreakerTrip("x")
		c.RecordCost("s", 1)
		c.RecordCredentialValidation("ok")
		c.RecordSignatureVerification("valid", false)
		c.RecordDBConnections("main", 1, 1)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(500))
	assert.Equal(t, "unknown", statusCode(100))
}
