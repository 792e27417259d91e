package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベル値のメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordCheckIn_SplitsByOutcome はチェックイン結果がラベル別に集計されることを検証する。
func TestRecordCheckIn_SplitsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckIn(true)
	c.RecordCheckIn(false)
	c.RecordCheckIn(false)

	if v := findMetric(t, reg, "driftledger_check_ins_total", map[string]string{"outcome": "claimed"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("claimed = %v, want 1", v)
	}
	if v := findMetric(t, reg, "driftledger_check_ins_total", map[string]string{"outcome": "already_claimed"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("already_claimed = %v, want 2", v)
	}
}

// TestRecordTokensAwarded_IgnoresZero は0トークンの付与が計上されないことを検証する。
func TestRecordTokensAwarded_IgnoresZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokensAwarded(SourceSession, 2)
	c.RecordTokensAwarded(SourceSession, 0)
	c.RecordTokensAwarded(SourceDistribution, 50)

	if v := findMetric(t, reg, "driftledger_tokens_awarded_total", map[string]string{"source": SourceSession}).GetCounter().GetValue(); v != 2 {
		t.Errorf("session tokens = %v, want 2", v)
	}
	if v := findMetric(t, reg, "driftledger_tokens_awarded_total", map[string]string{"source": SourceDistribution}).GetCounter().GetValue(); v != 50 {
		t.Errorf("distribution tokens = %v, want 50", v)
	}
}

func TestRecordSession_CountsAndObservesScore(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSession(250)
	c.RecordSession(99)

	if v := findMetric(t, reg, "driftledger_sessions_recorded_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("sessions = %v, want 2", v)
	}
	if n := findMetric(t, reg, "driftledger_session_score", nil).GetHistogram().GetSampleCount(); n != 2 {
		t.Errorf("score sample count = %d, want 2", n)
	}
}

func TestRecordDistributionRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDistributionRun(OutcomeCompleted, 1500*time.Millisecond)

	if v := findMetric(t, reg, "driftledger_distribution_runs_total", map[string]string{"outcome": OutcomeCompleted}).GetCounter().GetValue(); v != 1 {
		t.Errorf("runs = %v, want 1", v)
	}
	if s := findMetric(t, reg, "driftledger_distribution_duration_seconds", nil).GetHistogram().GetSampleSum(); s != 1.5 {
		t.Errorf("duration sum = %v, want 1.5", s)
	}
}

func TestRecordNotificationFailureAndHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotificationFailure("daily_reward")
	c.RecordHTTPStatus(503)

	if v := findMetric(t, reg, "driftledger_notification_failures_total", map[string]string{"kind": "daily_reward"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("notification failures = %v, want 1", v)
	}
	if v := findMetric(t, reg, "driftledger_http_status_total", map[string]string{"status_code": "503"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("http 503 = %v, want 1", v)
	}
}
