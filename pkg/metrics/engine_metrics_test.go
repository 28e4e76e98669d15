package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/engine"
)

var _ engine.Metrics = (*EngineMetrics)(nil)

func TestEngineMetrics_Counts(t *testing.T) {
	m, err := NewEngineMetrics("fix")
	require.NoError(t, err)

	m.MessageReceived(codec.KindHeartbeat)
	m.MessageReceived(codec.KindHeartbeat)
	m.MessageReceived(codec.KindLogon)
	m.InvalidMessage(codec.RejectCompIDProblem)
	m.BackPressured()
	m.SessionsActive(3)
	m.SequenceReset()
	m.CloseStep(engine.StepAwaitingDisconnects.String())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(codec.KindHeartbeat.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(codec.KindLogon.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidMessages.WithLabelValues(codec.RejectCompIDProblem.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backPressured))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sequenceResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.closeSteps.WithLabelValues("AWAITING_DISCONNECTS")))
}

func TestEngineMetrics_Handler(t *testing.T) {
	m, err := NewEngineMetrics("fix")
	require.NoError(t, err)
	m.SessionsActive(2)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), "fix_sessions_active 2"))
}

func TestEngineMetrics_SeparateRegistries(t *testing.T) {
	_, err := NewEngineMetrics("fix")
	require.NoError(t, err)
	_, err = NewEngineMetrics("fix")
	assert.NoError(t, err)
}
