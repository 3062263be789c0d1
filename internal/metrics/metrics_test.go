package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCollectorsWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncCommand("start")
	RecordTransition("idle", "running", "start")
	SetRunning(true)
	SetProgress(55)
	SetLeaseHeld(true, false)
	IncLeaseError("acquire")
	IncWatchdogCheck("healthy")
	SetWatchdogScheduled(1)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"genkeep_runner_commands_total":          false,
		"genkeep_runner_state_transitions_total": false,
		"genkeep_runner_running":                 false,
		"genkeep_runner_progress_percent":        false,
		"genkeep_lease_held":                     false,
		"genkeep_lease_errors_total":             false,
		"genkeep_watchdog_checks_total":          false,
		"genkeep_watchdog_scheduled":             false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if n == "genkeep_runner_progress_percent" && mf.GetMetric()[0].GetGauge().GetValue() != 55 {
			t.Fatalf("progress gauge = %v", mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncWatchdogCheck("restarted")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `genkeep_watchdog_checks_total{outcome="restarted"}`) {
		t.Fatalf("expected watchdog counter in output")
	}
}
