// Exporter construction for traces, metrics, and logs
// Protocol selects OTLP over HTTP or gRPC; Stdout bypasses the collector entirely
package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Supported OTLP protocols.
const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// Signal names accepted by ParseSignals.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
	SignalLogs    = "logs"
)

const (
	connectCheckTimeout = 2 * time.Second
	defaultHTTPPort     = "4318"
	defaultGRPCPort     = "4317"
)

var validSignals = map[string]bool{
	SignalTraces:  true,
	SignalMetrics: true,
	SignalLogs:    true,
}

var validProtocols = map[string]bool{
	ProtocolHTTP: true,
	ProtocolGRPC: true,
}

// ValidateProtocol rejects anything other than http/protobuf or grpc.
func ValidateProtocol(p string) error {
	if !validProtocols[p] {
		return fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", p)
	}
	return nil
}

// ParseSignals parses a comma-separated signal list such as "traces,logs".
func ParseSignals(s string) (map[string]bool, error) {
	set := make(map[string]bool)
	for _, sig := range strings.Split(s, ",") {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		if !validSignals[sig] {
			return nil, fmt.Errorf("unknown signal %q, valid signals: traces, metrics, logs", sig)
		}
		set[sig] = true
	}
	return set, nil
}

// CheckEndpoint dials the collector once. A failure is advisory: spans are dropped
// by the exporter rather than failing the workflow, so callers should warn and go on.
func CheckEndpoint(endpoint, protocol string) error {
	host := collectorHost(endpoint, protocol)
	conn, err := net.DialTimeout("tcp", host, connectCheckTimeout)
	if err != nil {
		return fmt.Errorf("cannot reach OTLP collector at %s; spans will be dropped\n\n"+
			"To print spans to the terminal instead, use --stdout:\n"+
			"  infercheck guardrails --stdout\n\n"+
			"To send to a specific collector, use --endpoint or OTEL_TRACE_ENDPOINT:\n"+
			"  infercheck guardrails --endpoint http://collector.example.com:4318/v1/traces", host)
	}
	_ = conn.Close()
	return nil
}

// collectorHost reduces an endpoint (URL or host[:port]) to host:port for dialing.
func collectorHost(endpoint, protocol string) string {
	port := defaultHTTPPort
	if protocol == ProtocolGRPC {
		port = defaultGRPCPort
	}
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "https":
				port = "443"
			case "http":
				if protocol != ProtocolGRPC {
					port = "80"
				}
			}
		}
	}
	if host == "" {
		return net.JoinHostPort("localhost", port)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, port)
	}
	return host
}

// signalURL rewrites an OTLP/HTTP trace URL (".../v1/traces") to the path for another
// signal. Endpoints without a URL scheme are returned unchanged.
func signalURL(endpoint, signal string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return endpoint
	}
	if base, ok := strings.CutSuffix(u.Path, "/v1/traces"); ok {
		u.Path = base + "/v1/" + signal
	}
	return u.String()
}

func isURL(endpoint string) bool {
	return strings.Contains(endpoint, "://")
}

func createTraceExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	if opts.Stdout {
		return stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
	}
	switch opts.Protocol {
	case ProtocolGRPC:
		var grpcOpts []otlptracegrpc.Option
		switch {
		case isURL(opts.Endpoint):
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, grpcOpts...)
	case ProtocolHTTP, "":
		var httpOpts []otlptracehttp.Option
		switch {
		case isURL(opts.Endpoint):
			httpOpts = append(httpOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint), otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", opts.Protocol)
	}
}

func createMetricExporter(ctx context.Context, opts Options) (sdkmetric.Exporter, error) {
	if opts.Stdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
	}
	switch opts.Protocol {
	case ProtocolGRPC:
		var grpcOpts []otlpmetricgrpc.Option
		switch {
		case isURL(opts.Endpoint):
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpoint(opts.Endpoint), otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, grpcOpts...)
	case ProtocolHTTP, "":
		var httpOpts []otlpmetrichttp.Option
		switch {
		case isURL(opts.Endpoint):
			httpOpts = append(httpOpts, otlpmetrichttp.WithEndpointURL(signalURL(opts.Endpoint, SignalMetrics)))
		case opts.Endpoint != "":
			httpOpts = append(httpOpts, otlpmetrichttp.WithEndpoint(opts.Endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for metrics", opts.Protocol)
	}
}

func createLogExporter(ctx context.Context, opts Options) (sdklog.Exporter, error) {
	if opts.Stdout {
		return stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
	}
	switch opts.Protocol {
	case ProtocolGRPC:
		var grpcOpts []otlploggrpc.Option
		switch {
		case isURL(opts.Endpoint):
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpoint(opts.Endpoint), otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, grpcOpts...)
	case ProtocolHTTP, "":
		var httpOpts []otlploghttp.Option
		switch {
		case isURL(opts.Endpoint):
			httpOpts = append(httpOpts, otlploghttp.WithEndpointURL(signalURL(opts.Endpoint, SignalLogs)))
		case opts.Endpoint != "":
			httpOpts = append(httpOpts, otlploghttp.WithEndpoint(opts.Endpoint), otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for logs", opts.Protocol)
	}
}
