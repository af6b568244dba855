package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	amqppub "github.com/fleetflow/broker-comms/internal/amqp"
	"github.com/fleetflow/broker-comms/internal/clock"
	"github.com/fleetflow/broker-comms/internal/config"
	"github.com/fleetflow/broker-comms/internal/delivery"
	"github.com/fleetflow/broker-comms/internal/handler"
	"github.com/fleetflow/broker-comms/internal/llm"
	natsclient "github.com/fleetflow/broker-comms/internal/nats"
	"github.com/fleetflow/broker-comms/internal/recording"
	"github.com/fleetflow/broker-comms/internal/seed"
	"github.com/fleetflow/broker-comms/internal/service"
	"github.com/fleetflow/broker-comms/internal/store"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

var errNotConnected = errors.New("not connected")

// app holds the wired core and the adapters it must release on exit.
type app struct {
	log *logger.Logger

	store *store.GormStore
	nats  *natsclient.Client
	amqp  *amqppub.Publisher

	hub        *service.EventHub
	threads    *service.ThreadStore
	templates  *service.TemplateStore
	dispatcher *service.Dispatcher
	calls      *service.CallRecorder
	engine     *service.FollowUpEngine
	analytics  *service.AnalyticsAggregator

	replay handler.EventReader
	checks map[string]handler.ReadinessCheck
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	if err := service.ValidateSchedule(cfg.FollowUpSchedule); err != nil {
		return nil, err
	}

	data, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	warnings, err := data.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid seed data: %w", err)
	}
	for _, w := range warnings {
		log.Warn("seed warning", zap.String("detail", w))
	}

	a := &app{
		log:    log,
		hub:    service.NewEventHub(),
		checks: make(map[string]handler.ReadinessCheck),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var persister service.Persister
	if cfg.DatabasePath != "" {
		a.store, err = store.Open(cfg.DatabasePath, log)
		if err != nil {
			return nil, err
		}
		persister = a.store
		a.checks["store"] = a.store.Ping
	}

	publishers := []service.EventPublisher{a.hub}
	switch cfg.EventBackend {
	case config.EventBackendNATS:
		a.nats, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, err
		}
		streams := natsclient.NewStreamManager(a.nats)
		if err = streams.EnsureStream(ctx); err != nil {
			return nil, err
		}
		publishers = append(publishers, streams)
		a.replay = streams
		a.checks["nats"] = connectedCheck(a.nats.IsConnected)

	case config.EventBackendAMQP:
		a.amqp, err = amqppub.Dial(amqppub.Config{
			URL:            cfg.AMQPURL,
			Queue:          cfg.AMQPQueue,
			Prefix:         cfg.AMQPQueuePrefix,
			SpecificEvents: cfg.AMQPSpecificEvents,
		}, log)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, a.amqp)
		a.checks["amqp"] = connectedCheck(a.amqp.IsConnected)
	}
	events := service.Fanout(publishers...)

	var gateway service.DeliveryGateway
	if cfg.DeliveryWebhookURL != "" {
		gateway, err = delivery.NewWebhookGateway(delivery.Config{
			URL:        cfg.DeliveryWebhookURL,
			Token:      cfg.DeliveryToken,
			Timeout:    cfg.DeliveryTimeout,
			RetryCount: cfg.DeliveryRetries,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	var archive service.RecordingArchive
	if cfg.RecordingBucket != "" {
		archive, err = recording.NewS3Archive(recording.Config{
			Bucket:    cfg.RecordingBucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	var summarizer service.Summarizer
	if key := cfg.LLMAPIKey(); key != "" {
		client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), key, cfg.LLMBaseURL)
		if err != nil {
			log.Warn("failed to create LLM client, using canned call summaries", zap.Error(err))
		} else {
			summarizer = llm.NewCallSummarizer(client, cfg.LLMModel, log)
			log.Info("call summaries enabled", zap.String("provider", string(client.Provider())))
		}
	}

	clk := clock.Real{}
	a.templates = service.NewTemplateStore(persister, log)
	a.threads = service.NewThreadStore(persister, log)
	a.dispatcher = service.NewDispatcher(a.threads, a.templates, gateway, events, clk, log, service.DispatcherConfig{
		DeliveryTimeout: cfg.DeliveryTimeout,
	})
	a.calls = service.NewCallRecorder(a.threads, events, persister, summarizer, archive, clk, log, service.CallRecorderConfig{})
	a.engine = service.NewFollowUpEngine(a.threads, a.templates, a.dispatcher, events, clk, log, cfg.FollowUpSchedule)
	a.analytics = service.NewAnalyticsAggregator(a.threads, a.templates)

	if err = a.load(ctx, data); err != nil {
		return nil, err
	}
	return a, nil
}

// load fills the stores from the database when it holds data, and from the
// seed otherwise. Rules always come from the seed.
func (a *app) load(ctx context.Context, data *seed.Data) error {
	if a.store != nil {
		threads, err := a.store.LoadThreads(ctx)
		if err != nil {
			return err
		}
		templates, err := a.store.LoadTemplates(ctx)
		if err != nil {
			return err
		}
		if len(threads) > 0 || len(templates) > 0 {
			for i := range templates {
				a.templates.Add(&templates[i])
			}
			for i := range threads {
				a.threads.Add(&threads[i])
			}
			for i := range data.Rules {
				a.engine.AddRule(&data.Rules[i])
			}
			a.log.Info("restored state from database",
				zap.Int("threads", len(threads)),
				zap.Int("templates", len(templates)),
			)
			return nil
		}
	}

	data.Apply(a.templates, a.threads, a.engine)
	if a.store != nil {
		if err := data.Persist(ctx, a.store); err != nil {
			return err
		}
	}
	a.log.Info("loaded seed data",
		zap.Int("threads", len(data.Threads)),
		zap.Int("templates", len(data.Templates)),
		zap.Int("rules", len(data.Rules)),
	)
	return nil
}

func (a *app) services() handler.Services {
	return handler.Services{
		Threads:    a.threads,
		Templates:  a.templates,
		Dispatcher: a.dispatcher,
		Calls:      a.calls,
		FollowUps:  a.engine,
		Analytics:  a.analytics,
		Hub:        a.hub,
		Replay:     a.replay,
		Checks:     a.checks,
	}
}

// close stops background work before releasing the adapters it writes to.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.calls != nil {
		a.calls.Close()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.log.Warn("failed to close AMQP connection", zap.Error(err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func connectedCheck(connected func() bool) handler.ReadinessCheck {
	return func(context.Context) error {
		if !connected() {
			return errNotConnected
		}
		return nil
	}
}
