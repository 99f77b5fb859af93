// capetl archives, deduplicates and flattens IPAWS CAP alert feeds and
// notification messages into staged tables for warehouse loading.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/capetl/internal/authmw"
	ac "github.com/linnemanlabs/capetl/internal/cfg"
	"github.com/linnemanlabs/capetl/internal/ipaws"
	"github.com/linnemanlabs/capetl/internal/notify/slack"
	"github.com/linnemanlabs/capetl/internal/pipeline"
	"github.com/linnemanlabs/capetl/internal/pipelineapi"
	"github.com/linnemanlabs/capetl/internal/postgres"
)

const appName = "capetl"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stamp app name and component into version info
	v.AppName = appName
	v.Component = component
	// build/version info for logs, metrics and -V
	vi := v.Get()

	// each package owns its flags and options struct
	var (
		appCfg    ac.Config
		pipeCfg   pipeline.Config
		feedCfg   ipaws.Config
		pgCfg     postgres.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)
	// register every package's flags on the shared flag set
	for _, r := range []cfg.Registerable{
		&appCfg, &pipeCfg, &feedCfg, &pgCfg,
		&httpCfg, &httpmwCfg, &logCfg, &opsCfg, &profCfg, &traceCfg,
	} {
		r.RegisterFlags(flag.CommandLine)
	}
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline flags first, env vars below only fill what was not passed
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// CAPETL_* env vars fill flags not given on the command line
	cfg.FillFromEnv(flag.CommandLine, "CAPETL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate every config, reporting all problems at once
	if err := errors.Join(
		appCfg.Validate(pgCfg.DatabaseURL),
		pipeCfg.Validate(),
		feedCfg.Validate(),
		pgCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	// cross-package checks only main can make
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}
	if appCfg.FeedInterval > 0 && feedCfg.URL == "" {
		return fmt.Errorf("feed-interval %s set without feed-url", appCfg.FeedInterval)
	}

	// initialize logger before anything that might fail noisily
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// flush any buffered records on exit
	defer func() { _ = lg.Sync() }()

	// component field on every record from here on
	L := lg.With("component", vi.Component)
	// stash logger in context for downstream packages
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"bucket", pipeCfg.Bucket,
		"blob_backend", appCfg.BlobBackend,
		"ledger_backend", appCfg.LedgerBackend,
		"on_field_error", pipeCfg.Policy().String(),
		"feed_url", feedCfg.URL,
		"feed_interval", appCfg.FeedInterval.String(),
		"api_auth", appCfg.APIToken != "",
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling first so the whole lifetime is captured
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	// returns a stop func that flushes on shutdown
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	profiling := profErr == nil && profCfg.EnablePyroscope

	// otel tracing setup
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	// tracing failure is logged, not fatal
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// tag spans with profile ids so traces link to flame graphs
	if profiling {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// shared prometheus registry for process and pipeline metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profiling)

	// per-query ledger DB histogram, fed by the postgres tracer
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capetl_db_query_duration_seconds",
		Help:    "Duration of individual ledger database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)
	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
		},
	))

	// aws session only when s3 or dynamodb is selected
	sess, err := newAWSSession(&appCfg)
	if err != nil {
		return err
	}
	// object store for raw archives and staged tables
	store, err := openBlobStore(&appCfg, sess)
	if err != nil {
		return err
	}
	L.Info(ctx, "blob store ready", "backend", appCfg.BlobBackend)
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	// dedup ledger backend
	ledger, closeLedger, err := openLedger(ctx, &appCfg, pgCfg, sess, L)
	if err != nil {
		return err
	}
	defer closeLedger()

	// optional collaborators: metrics always, feed client and slack when configured
	opts := []pipeline.Option{pipeline.WithMetrics(pipeline.NewMetrics(m.Registry()))}
	if feedCfg.URL != "" {
		opts = append(opts, pipeline.WithFeed(ipaws.New(feedCfg)))
	}
	if appCfg.SlackWebhookURL != "" {
		opts = append(opts, pipeline.WithNotifier(slack.New(appCfg.SlackWebhookURL, L)))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	// the pipeline service behind both the api and the poller
	svc := pipeline.NewService(pipeCfg, store, ledger, L, opts...)

	// readiness fails once shutdown starts so traffic drains away
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	// liveness is true as long as we can answer
	liveness := health.Fixed(true, "")

	// ops listener serves metrics, health and pprof on the admin port
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	// bearer token auth on the api routes when a token is set
	var auth func(http.Handler) http.Handler
	if appCfg.APIToken != "" {
		auth = authmw.BearerToken(appCfg.APIToken)
	}
	// api router with the middleware stack, see handler.go
	h := newAPIHandler(apiDeps{
		logger:      L,
		api:         pipelineapi.New(L, svc, auth),
		healthz:     health.HealthzHandler(liveness),
		readyz:      health.ReadyzHandler(readiness),
		metricsMW:   func(h http.Handler) http.Handler { return m.Middleware(h) },
		trustedHops: httpmwCfg.TrustedProxyHops,
	})

	// http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	// start the pipeline api listener
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start pipeline api http listener")
		_ = opsHTTPStop(context.Background())
		return err
	}

	// optional feed poller, stopped before draining
	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	var polling sync.WaitGroup
	if appCfg.FeedInterval > 0 {
		polling.Add(1)
		go func() {
			defer polling.Done()
			pollFeed(pollCtx, svc, appCfg.FeedInterval, L.With("step", "poll"))
		}()
		L.Info(ctx, "feed polling started", "interval", appCfg.FeedInterval.String())
	}

	// tell systemd we are up when started with Type=notify
	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout if this mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until ctrl+c / sigterm
	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// no new ingests once shutdown starts
	stopPoll()
	polling.Wait()

	// fail readiness so the load balancer stops sending traffic
	shutdownGate.Set("draining")
	// wait out in-flight requests; a second signal skips the wait
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	drain(L, time.Duration(appCfg.DrainSeconds)*time.Second, forceCh)
	signal.Stop(forceCh)

	// stop components, each with a slice of the shutdown budget
	fns := []stopFn{
		{"pipeline api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		fns = append(fns, stopFn{"otel", shutdownOtelx})
	}
	stopAll(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, fns)

	// profiler stop is synchronous and outside the budget
	if stopProf != nil {
		stopProf()
	}
	L.Info(context.Background(), "shutdown complete")
	return nil
}
