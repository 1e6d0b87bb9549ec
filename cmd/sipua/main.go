package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/sipua/pkg/config"
	"github.com/arzzra/sipua/pkg/dum"
	"github.com/arzzra/sipua/pkg/logging"
	"github.com/arzzra/sipua/pkg/transport"
	"github.com/arzzra/sipua/pkg/ua"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config")
	debug := flag.Bool("debug", false, "Dump SIP messages")
	flag.Parse()

	if *debug {
		sip.SIPDebug = true
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sipua: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	logging.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sipUA, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return fmt.Errorf("create sip user agent: %w", err)
	}
	srv, err := sipgo.NewServer(sipUA)
	if err != nil {
		_ = sipUA.Close()
		return fmt.Errorf("create sip server: %w", err)
	}
	client, err := sipgo.NewClient(sipUA)
	if err != nil {
		_ = sipUA.Close()
		return fmt.Errorf("create sip client: %w", err)
	}

	transports := transport.NewManager(srv, logger)
	transports.WatchOutbound(sipUA.TransportLayer(), transport.DefaultWatchInterval)
	infos, tlsErrs := cfg.TransportInfos()
	for _, err := range tlsErrs {
		logger.LogError(ctx, err, "tls certificate not loaded")
	}
	bound := transports.AddTransports(ctx, infos)
	if len(bound) == 0 {
		_ = transports.Shutdown()
		_ = sipUA.Close()
		return errors.New("no transport could be bound")
	}

	contact, err := contactUri(cfg.Contact, bound)
	if err != nil {
		_ = transports.Shutdown()
		_ = sipUA.Close()
		return err
	}
	logger.Info(ctx, "contact address", logging.String("contact", contact.String()))

	engine := dum.New(dum.NewRequester(client),
		dum.WithLogger(logger),
		dum.WithMetricsRegisterer(reg),
		dum.WithContact(contact),
		dum.WithUserAgent(cfg.UserAgent),
		dum.WithFlowReporter(transports),
	)
	srv.OnNotify(func(req *sip.Request, tx sip.ServerTransaction) {
		engine.HandleNotify(req, tx)
	})

	agent, err := ua.New(engine,
		ua.WithLogger(logger),
		ua.WithMetricsRegisterer(reg),
		ua.WithApplication(newDaemonApp(logger)),
		ua.WithStack(&stack{engine: engine, transports: transports, sipUA: sipUA}),
		ua.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	if err != nil {
		engine.Close()
		_ = transports.Shutdown()
		_ = sipUA.Close()
		return err
	}
	transports.OnConnectionTerminated(agent.OnConnectionTerminated)

	if err := provision(agent, cfg); err != nil {
		logger.LogError(ctx, err, "provisioning failed")
		_ = agent.Shutdown(context.Background())
		return err
	}

	metricsSrv := serveMetrics(cfg.MetricsAddr, reg, logger)

	logger.Info(ctx, "sipua started",
		logging.Int("transports", len(bound)),
		logging.Int("profiles", len(cfg.Profiles)))
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(ctx, err, "processing loop stopped")
	}

	logger.Info(context.Background(), "shutting down")
	shutdownErr := agent.Shutdown(context.Background())
	if metricsSrv != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(stopCtx)
	}
	return shutdownErr
}

func newLogger(cfg config.Config) *logging.DefaultLogger {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	return logging.NewLogger(logging.Config{
		Level:  level,
		Output: os.Stderr,
		JSON:   cfg.LogFormat == "json",
	})
}

// provision добавляет профили, подписки и публикации из конфигурации
func provision(agent *ua.UserAgent, cfg config.Config) error {
	for _, p := range cfg.Profiles {
		cp, err := p.ConversationProfile()
		if err != nil {
			return err
		}
		if _, err := agent.AddConversationProfile(cp, p.DefaultOutgoing); err != nil {
			return fmt.Errorf("profile %s: %w", p.AOR, err)
		}
	}
	for _, s := range cfg.Subscriptions {
		target, err := config.TargetUri(s.Target)
		if err != nil {
			return err
		}
		agent.CreateSubscription(s.Event, target, s.Expires, s.Mime)
	}
	for _, p := range cfg.Publications {
		target, err := config.TargetUri(p.Target)
		if err != nil {
			return err
		}
		agent.CreatePublication(p.Event, target, p.Status, p.Expires, p.Mime)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logging.StructuredLogger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(context.Background(), err, "metrics server stopped")
		}
	}()
	logger.Info(context.Background(), "metrics endpoint", logging.String("addr", addr))
	return srv
}
