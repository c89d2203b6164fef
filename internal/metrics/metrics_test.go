package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Badareenadh/sip-event-processor/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
next:
	for _, m := range mf.GetMetric() {
		for k, v := range labels {
			found := false
			for _, lp := range m.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				continue next
			}
		}
		return m.GetCounter().GetValue()
	}
	return 0
}

func TestAdmissionRejectedLabels(t *testing.T) {
	before := counterValue(gatherFamily(t, "sipevd_admission_rejected_total"), map[string]string{"reason": "tenant_quota"})

	metrics.IncAdmissionRejected("tenant_quota")
	metrics.IncAdmissionRejected("tenant_quota")
	metrics.IncAdmissionRejected("worker_saturation")

	mf := gatherFamily(t, "sipevd_admission_rejected_total")
	require.NotNil(t, mf)
	assert.Equal(t, before+2, counterValue(mf, map[string]string{"reason": "tenant_quota"}))
	assert.GreaterOrEqual(t, counterValue(mf, map[string]string{"reason": "worker_saturation"}), 1.0)
}

func TestNotifyOutcome(t *testing.T) {
	metrics.IncNotifySent("dialog", nil)
	metrics.IncNotifySent("dialog", errors.New("timeout"))

	mf := gatherFamily(t, "sipevd_notify_sent_total")
	require.NotNil(t, mf)
	assert.GreaterOrEqual(t, counterValue(mf, map[string]string{"package": "dialog", "outcome": "success"}), 1.0)
	assert.GreaterOrEqual(t, counterValue(mf, map[string]string{"package": "dialog", "outcome": "failure"}), 1.0)
}

func TestRecordReaperScan(t *testing.T) {
	metrics.RecordReaperScan(3, 1, 20*time.Millisecond)

	mf := gatherFamily(t, "sipevd_reaper_reaped_total")
	require.NotNil(t, mf)
	assert.GreaterOrEqual(t, counterValue(mf, map[string]string{"kind": "expired"}), 3.0)
	assert.GreaterOrEqual(t, counterValue(mf, map[string]string{"kind": "stuck"}), 1.0)
}

func TestGaugesDoNotPanic(t *testing.T) {
	metrics.SetWorkerQueueDepth(0, 42)
	metrics.SetSubscriptionsActive("dialog", "active", 7)
	metrics.SetPresenceConnState(2)
	metrics.SetStoreQueueDepth(11)
	metrics.ObserveEventProcessing(5 * time.Millisecond)
	metrics.ObserveStoreFlush(3 * time.Millisecond)
	metrics.ObserveNotifyBody(512)
}
