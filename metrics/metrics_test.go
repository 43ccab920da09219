package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-lab/rdmtp/metrics"
)

func TestMetricsServeExpectedNames(t *testing.T) {
	metrics.PacketsByType.WithLabelValues("RTS").Inc()
	metrics.RNREvents.WithLabelValues("remote").Inc()
	metrics.AvailableDataBufs.Set(7)
	metrics.PoolInUse.WithLabelValues("tx_pkt").Set(1)
	metrics.CompletionErrors.WithLabelValues("fabric").Inc()

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body.Write(buf[:n])
		if rerr != nil {
			break
		}
	}

	out := body.String()
	for _, want := range []string{
		"rdmtp_packets_total",
		"rdmtp_rnr_events_total",
		"rdmtp_available_data_bufs",
		"rdmtp_progress_tick_seconds",
		"rdmtp_pool_in_use",
		"rdmtp_completion_errors_total",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}
