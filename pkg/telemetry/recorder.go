// Span recorder: an explicitly constructed owner of the trace, metric, and log providers
// Components receive a *Recorder instead of reaching for the otel globals
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the scope name used for every tracer, meter, and logger.
const InstrumentationName = "github.com/andrewh/infercheck"

// ShutdownTimeout bounds how long Shutdown waits for exporters to drain.
const ShutdownTimeout = 5 * time.Second

// Options configures a Recorder.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is either a full URL (http://host:4318/v1/traces) or host[:port].
	Endpoint string
	Protocol string
	// Stdout writes all signals as JSON to Writer instead of an OTLP collector.
	Stdout bool
	Writer io.Writer
	// Signals selects which signals are exported; nil means traces only.
	Signals map[string]bool
	// SlowThreshold is the call duration above which a WARN log record is emitted.
	SlowThreshold time.Duration
}

// Recorder opens spans and fans completed remote calls out to observers.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	tracer    trace.Tracer
	observers []CallObserver
	closers   []shutdownable

	mu     sync.Mutex
	closed bool
}

// New builds a Recorder with exporters selected by opts. Traces go through a batch
// processor (simple processor for stdout) so export never blocks the traced call.
func New(ctx context.Context, opts Options) (*Recorder, error) {
	if opts.Protocol == "" {
		opts.Protocol = ProtocolHTTP
	}
	if err := ValidateProtocol(opts.Protocol); err != nil {
		return nil, err
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	signals := opts.Signals
	if signals == nil {
		signals = map[string]bool{SignalTraces: true}
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	r := &Recorder{}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if signals[SignalTraces] {
		exporter, expErr := createTraceExporter(ctx, opts)
		if expErr != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", expErr)
		}
		if opts.Stdout {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
		} else {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
		}
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	r.tracer = tp.Tracer(InstrumentationName)
	r.closers = append(r.closers, tp)

	if signals[SignalMetrics] {
		exporter, expErr := createMetricExporter(ctx, opts)
		if expErr != nil {
			_ = r.Shutdown(ctx)
			return nil, fmt.Errorf("creating metric exporter: %w", expErr)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
		r.closers = append(r.closers, mp)
		obs, obsErr := NewCallMetrics(mp)
		if obsErr != nil {
			_ = r.Shutdown(ctx)
			return nil, fmt.Errorf("creating call metrics: %w", obsErr)
		}
		r.observers = append(r.observers, obs)
	}

	if signals[SignalLogs] {
		exporter, expErr := createLogExporter(ctx, opts)
		if expErr != nil {
			_ = r.Shutdown(ctx)
			return nil, fmt.Errorf("creating log exporter: %w", expErr)
		}
		var processor sdklog.Processor
		if opts.Stdout {
			processor = sdklog.NewSimpleProcessor(exporter)
		} else {
			processor = sdklog.NewBatchProcessor(exporter)
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(processor),
			sdklog.WithResource(res),
		)
		r.closers = append(r.closers, lp)
		r.observers = append(r.observers, NewCallLogs(lp, opts.SlowThreshold))
	}

	return r, nil
}

// NewWithTracerProvider wraps an existing provider. The caller keeps ownership of tp;
// Shutdown on the returned Recorder does not close it.
func NewWithTracerProvider(tp trace.TracerProvider, observers ...CallObserver) *Recorder {
	return &Recorder{
		tracer:    tp.Tracer(InstrumentationName),
		observers: observers,
	}
}

// Start opens a span as a child of whatever span ctx carries.
func (r *Recorder) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	tracer := r.tracerOrNoop()
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// Observe forwards a completed call to every registered observer.
func (r *Recorder) Observe(info CallInfo) {
	if r == nil {
		return
	}
	for _, obs := range r.observers {
		obs.Observe(info)
	}
}

// Shutdown flushes and closes every provider the Recorder owns. It is safe to call
// more than once; later calls are no-ops.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	return shutdownAll(ctx, closers)
}

func (r *Recorder) tracerOrNoop() trace.Tracer {
	if r == nil || r.tracer == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return r.tracer
}

// shutdownable is anything with a Shutdown method (TracerProvider, MeterProvider, LoggerProvider).
type shutdownable interface {
	Shutdown(context.Context) error
}

// shutdownAll shuts down all items concurrently within the given context.
// A slow item does not block the others.
func shutdownAll[S shutdownable](ctx context.Context, items []S) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, item := range items {
		wg.Go(func() {
			if err := item.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
