package handler

import (
	"io"
	"log/slog"
	"testing"

	"dnb-proxy/internal/client"
	"dnb-proxy/internal/config"
	"dnb-proxy/internal/metrics"
	"dnb-proxy/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(timeoutSeconds int) *config.Config {
	cfg := config.Default()
	cfg.Upstream.TimeoutSeconds = timeoutSeconds
	return cfg
}

// newTestRelayService creates a RelayService that fetches target (an httptest URL).
func newTestRelayService(t *testing.T, cfg *config.Config, m *metrics.Metrics, target string) *service.RelayService {
	t.Helper()
	logger := discardLogger()
	uc := client.NewUpstreamClient(cfg, logger, m)
	svc, err := service.NewRelayServiceForTest(uc, cfg, logger, m, target)
	if err != nil {
		t.Fatalf("NewRelayServiceForTest: %v", err)
	}
	return svc
}
