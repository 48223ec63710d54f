package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// gather returns the metric family with the given name, or nil.
func gather(t *testing.T, c *Collector, name string) *dto.MetricFamily {
	t.Helper()
	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestIndependentRegistries(t *testing.T) {
	// Two collectors must not clash: each call builds its own
	// registry.
	a := New()
	b := New()
	a.Reconnect("x")
	if mf := gather(t, b, "sqlwire_reconnects_total"); mf != nil && len(mf.GetMetric()) > 0 {
		t.Error("collector b saw collector a's series")
	}
}

func TestTaskCompleted(t *testing.T) {
	c := New()
	c.TaskCompleted("db1", "query", "ok", 10*time.Millisecond)
	c.TaskCompleted("db1", "query", "ok", 20*time.Millisecond)
	c.TaskCompleted("db1", "ping", "error", time.Millisecond)

	mf := gather(t, c, "sqlwire_tasks_total")
	if mf == nil {
		t.Fatal("sqlwire_tasks_total not registered")
	}
	var okCount float64
	for _, m := range mf.GetMetric() {
		if labelValue(m, "kind") == "query" && labelValue(m, "status") == "ok" {
			okCount = m.GetCounter().GetValue()
		}
	}
	if okCount != 2 {
		t.Errorf("query/ok count = %v, want 2", okCount)
	}

	hist := gather(t, c, "sqlwire_task_duration_seconds")
	if hist == nil {
		t.Fatal("duration histogram not registered")
	}
	for _, m := range hist.GetMetric() {
		if labelValue(m, "kind") == "query" && m.GetHistogram().GetSampleCount() != 2 {
			t.Errorf("query duration samples = %d, want 2", m.GetHistogram().GetSampleCount())
		}
	}
}

func TestGauges(t *testing.T) {
	c := New()
	c.SetQueueDepth("db1", 4)
	c.SetPreparedCacheSize("db1", 7)
	c.SetTargetHealth("db1", true)

	if mf := gather(t, c, "sqlwire_queue_depth"); mf.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Error("queue depth gauge wrong")
	}
	if mf := gather(t, c, "sqlwire_prepared_cache_size"); mf.GetMetric()[0].GetGauge().GetValue() != 7 {
		t.Error("prepared cache gauge wrong")
	}
	if mf := gather(t, c, "sqlwire_target_health"); mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Error("health gauge wrong")
	}
	c.SetTargetHealth("db1", false)
	if mf := gather(t, c, "sqlwire_target_health"); mf.GetMetric()[0].GetGauge().GetValue() != 0 {
		t.Error("health gauge did not flip")
	}
}

func TestLongDataDirections(t *testing.T) {
	c := New()
	c.LongData("db1", "out", 15<<20)
	c.LongData("db1", "out", 10<<20)
	c.LongData("db1", "in", 1000)

	mf := gather(t, c, "sqlwire_long_data_bytes_total")
	for _, m := range mf.GetMetric() {
		switch labelValue(m, "direction") {
		case "out":
			if m.GetCounter().GetValue() != float64(25<<20) {
				t.Errorf("out bytes = %v", m.GetCounter().GetValue())
			}
		case "in":
			if m.GetCounter().GetValue() != 1000 {
				t.Errorf("in bytes = %v", m.GetCounter().GetValue())
			}
		}
	}
}

func TestRemoveTarget(t *testing.T) {
	c := New()
	c.Reconnect("db1")
	c.AuthFailure("db1")
	c.PrepareIssued("db1")
	c.TaskCompleted("db1", "query", "ok", time.Millisecond)

	c.RemoveTarget("db1")

	for _, name := range []string{
		"sqlwire_reconnects_total",
		"sqlwire_auth_failures_total",
		"sqlwire_prepares_total",
		"sqlwire_tasks_total",
	} {
		if mf := gather(t, c, name); mf != nil && len(mf.GetMetric()) > 0 {
			t.Errorf("%s still has series after RemoveTarget", name)
		}
	}
}
