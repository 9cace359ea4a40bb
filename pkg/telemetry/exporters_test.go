package telemetry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    map[string]bool
		wantErr string
	}{
		{input: "traces", want: map[string]bool{"traces": true}},
		{input: "traces, metrics,logs", want: map[string]bool{"traces": true, "metrics": true, "logs": true}},
		{input: "", want: map[string]bool{}},
		{input: "traces,profiles", wantErr: `unknown signal "profiles"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSignals(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateProtocol(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateProtocol("grpc"))
	assert.NoError(t, ValidateProtocol("http/protobuf"))
	assert.Error(t, ValidateProtocol("http/json"))
}

func TestCollectorHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint, protocol, want string
	}{
		{"", ProtocolHTTP, "localhost:4318"},
		{"", ProtocolGRPC, "localhost:4317"},
		{"collector", ProtocolHTTP, "collector:4318"},
		{"collector:9999", ProtocolGRPC, "collector:9999"},
		{"http://otel:4318/v1/traces", ProtocolHTTP, "otel:4318"},
		{"https://otel.example.com/v1/traces", ProtocolHTTP, "otel.example.com:443"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, collectorHost(tt.endpoint, tt.protocol), "endpoint %q", tt.endpoint)
	}
}

func TestSignalURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://otel:4318/v1/metrics", signalURL("http://otel:4318/v1/traces", SignalMetrics))
	assert.Equal(t, "http://otel:4318/v1/logs", signalURL("http://otel:4318/v1/traces", SignalLogs))
	assert.Equal(t, "http://otel:4318/custom", signalURL("http://otel:4318/custom", SignalLogs))
	assert.Equal(t, "otel:4318", signalURL("otel:4318", SignalLogs))
}

func TestCheckEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })

		assert.NoError(t, CheckEndpoint("http://"+ln.Addr().String()+"/v1/traces", ProtocolHTTP))
	})

	t.Run("unreachable includes hint", func(t *testing.T) {
		t.Parallel()
		err := CheckEndpoint("127.0.0.1:1", ProtocolHTTP)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "spans will be dropped")
		assert.Contains(t, err.Error(), "--stdout")
	})
}
