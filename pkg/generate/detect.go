// Generation endpoint discovery by health probe
package generate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HealthTimeout bounds each candidate probe.
const HealthTimeout = 5 * time.Second

// Known in-cluster deployments, probed in order when no URL is configured.
const (
	StackInstanceURL = "http://llama-stack-instance-service.llama-serve.svc.cluster.local:8321"
	PredictorURL     = "http://llama-instruct-32-3b-predictor.llama-instruct-32-3b-demo.svc.cluster.local:80"
)

// DefaultCandidates lists the bases Detect probes by default.
var DefaultCandidates = []string{StackInstanceURL, PredictorURL}

// Detect returns the first candidate whose /health answers 200, or fallback when
// none does. Probe failures are logged and never returned.
func Detect(ctx context.Context, client *http.Client, candidates []string, fallback string, logger *zap.Logger) string {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, base := range candidates {
		if probe(ctx, client, base) {
			logger.Info("detected generation endpoint", zap.String("url", base))
			return base
		}
		logger.Debug("generation endpoint not healthy", zap.String("url", base))
	}
	logger.Info("using configured generation endpoint", zap.String("url", fallback))
	return fallback
}

func probe(ctx context.Context, client *http.Client, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck // status only
	return resp.StatusCode == http.StatusOK
}
