package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryGathersAdapterMetrics(t *testing.T) {
	FramesTotal.WithLabelValues("event").Inc()
	Actions.WithLabelValues("send_group_msg", "ok").Inc()

	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, name := range []string{
		"napcatbridge_gateway_frames_total",
		"napcatbridge_onebot_actions_total",
		"napcatbridge_correlation_pending",
	} {
		if !names[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(RouterReconnects.WithLabelValues("test-platform"))
	RouterReconnects.WithLabelValues("test-platform").Inc()
	RouterReconnects.WithLabelValues("test-platform").Inc()
	after := testutil.ToFloat64(RouterReconnects.WithLabelValues("test-platform"))
	if after != before+2 {
		t.Fatalf("expected %v, got %v", before+2, after)
	}
}

func TestHandlerServesText(t *testing.T) {
	DecodeErrors.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "napcatbridge_gateway_decode_errors_total") {
		t.Errorf("decode error counter missing from exposition")
	}
}
