package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/assistant"
	"github.com/BTreeMap/IntakePipe/internal/decision"
	"github.com/BTreeMap/IntakePipe/internal/events"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/intake"
	"github.com/BTreeMap/IntakePipe/internal/lock"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/proposal"
	"github.com/BTreeMap/IntakePipe/internal/recovery"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
)

// Poll intervals of the background workers.
const (
	outboxPollInterval = 5 * time.Second
	jobPollInterval    = 10 * time.Second
)

// gateway bundles the reply sender with the optional extras a backend offers.
type gateway struct {
	sender    messaging.Sender
	state     messaging.StateReporter
	validator api.SignatureValidator
	whatsapp  *messaging.WhatsAppService
	close     func()
}

// run wires every module and serves until ctx is canceled.
func run(ctx context.Context, cfg Config, flags Flags) error {
	if usesLocalSQLite(cfg.DatabaseDSN) {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		stateLock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := stateLock.Release(); err != nil {
				slog.Warn("run: failed to release state lock", "error", err)
			}
		}()
	}

	st, durable, err := openStore(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	gw, err := buildGateway(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer gw.close()

	proposals := proposal.NewClient(cfg.ProposalServiceURL, cfg.HTTPClientTimeout)
	delegate := decision.NewClient(
		decision.WithBaseURL(cfg.DecisionServiceURL),
		decision.WithTimeout(cfg.DecisionTimeout),
	)

	pipelineOpts := []intake.Option{
		intake.WithLocker(locker),
		intake.WithDecisionTimeout(cfg.DecisionTimeout),
		intake.WithPublisher(publisher),
	}
	generatorOpts := []proposal.Option{
		proposal.WithSender(gw.sender),
		proposal.WithPublisher(publisher),
	}

	workers := recovery.NewManager()
	var outboxSender *store.OutboxSender
	var jobRunner *store.JobRunner
	if durable != nil {
		pipelineOpts = append(pipelineOpts, intake.WithOutbox(durable), intake.WithJobs(durable))
		generatorOpts = append(generatorOpts, proposal.WithOutbox(durable), proposal.WithJobs(durable))

		outboxSender = store.NewOutboxSender(durable, messaging.NewOutboxSendFunc(gw.sender), outboxPollInterval)
		jobRunner = store.NewJobRunner(durable, jobPollInterval)
		jobRunner.RegisterHandler(proposal.JobKindRetry, proposal.NewRetryJobHandler(proposals),
			store.WithBackoff(30*time.Second, 15*time.Minute))
		jobRunner.RegisterHandler(proposal.JobKindFollowUp, proposal.NewFollowUpJobHandler(gw.sender),
			store.WithBackoff(5*time.Minute, 2*time.Hour))

		workers.Register("outbox", recovery.OutboxRecovery(outboxSender))
		workers.Register("jobs", recovery.JobRecovery(jobRunner))
	} else {
		slog.Warn("run: in-memory store has no outbox or job queue; failed replies and proposals are not retried")
	}

	if err := workers.RecoverAll(ctx); err != nil {
		slog.Warn("run: recovery finished with errors", "error", err)
	}

	pipeline := intake.NewPipeline(st, delegate, gw.sender, proposals, pipelineOpts...)
	if gw.whatsapp != nil {
		gw.whatsapp.Subscribe(pipeline.HandleWhatsAppEvent(ctx))
	}

	apiOpts := []api.Option{
		api.WithGenerator(proposal.NewGenerator(generatorOpts...)),
		api.WithRateLimit(cfg.WebhookRateLimit),
	}
	if gw.state != nil {
		apiOpts = append(apiOpts, api.WithGateway(gw.state))
	}
	if gw.validator != nil && cfg.TwilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithTwilioValidator(gw.validator, cfg.TwilioWebhookURL))
	}
	if a, err := buildAssistant(cfg); err != nil {
		slog.Info("run: local assistant disabled", "error", err)
	} else {
		apiOpts = append(apiOpts, api.WithAssistant(a))
	}

	if outboxSender != nil {
		go outboxSender.Run(ctx)
	}
	if jobRunner != nil {
		go jobRunner.Run(ctx)
	}

	server := api.NewServer(pipeline, st, apiOpts...)
	return server.ListenAndServe(ctx, cfg.APIAddr)
}

// usesLocalSQLite reports whether dsn points at a SQLite file in the state directory.
func usesLocalSQLite(dsn string) bool {
	return dsn != MemoryDSN && store.DetectDSNType(dsn) == "sqlite3"
}

// openStore opens the application store. durable is nil for the in-memory store.
func openStore(dsn string) (store.Store, store.DurableStore, error) {
	if dsn == MemoryDSN {
		slog.Debug("openStore: using in-memory store")
		return store.NewInMemoryStore(), nil, nil
	}
	slog.Debug("openStore: opening database", "dsn_type", store.DetectDSNType(dsn))
	st, err := store.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, st, nil
}

func buildPublisher(ctx context.Context, cfg Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewNATSPublisher(ctx, cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildLocker(ctx context.Context, cfg Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocalLocker(), func() {}, nil
	}
	l, err := lock.DialRedisLocker(ctx, cfg.RedisURL, lock.WithTTL(cfg.LockTTL))
	if err != nil {
		return nil, nil, err
	}
	return l, func() {
		if err := l.Close(); err != nil {
			slog.Warn("run: failed to close redis locker", "error", err)
		}
	}, nil
}

func buildGateway(ctx context.Context, cfg Config, flags Flags) (*gateway, error) {
	switch cfg.Gateway {
	case GatewayTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return &gateway{sender: messaging.NewTwilioService(client), validator: client, close: func() {}}, nil

	case GatewayWhatsmeow:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDBDSN)}
		if flags.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
		}
		if flags.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client)
		return &gateway{sender: svc, state: svc, whatsapp: svc, close: client.Disconnect}, nil

	default:
		svc := messaging.NewEvolutionService(
			messaging.WithEvolutionURL(cfg.EvolutionURL),
			messaging.WithEvolutionAPIKey(cfg.EvolutionAPIKey),
			messaging.WithEvolutionInstance(cfg.EvolutionInstance),
			messaging.WithEvolutionTimeout(cfg.HTTPClientTimeout),
		)
		return &gateway{sender: svc, state: svc, close: func() {}}, nil
	}
}

// buildAssistant creates the local decision service. It needs an OpenAI key.
func buildAssistant(cfg Config) (*assistant.Assistant, error) {
	if cfg.OpenAIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	client, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithStateDir(cfg.StateDir),
		genai.WithDebugMode(cfg.GenAIDebug),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return assistant.New(client), nil
}
