package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kenes-ai/kenes/internal/agents"
	"github.com/kenes-ai/kenes/internal/config"
	"github.com/kenes-ai/kenes/internal/gateway"
	"github.com/kenes-ai/kenes/internal/idempotency"
	"github.com/kenes-ai/kenes/internal/knowledge"
	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/planner"
	"github.com/kenes-ai/kenes/internal/reminder"
	"github.com/kenes-ai/kenes/internal/router"
	"github.com/kenes-ai/kenes/internal/runtime"
	"github.com/kenes-ai/kenes/internal/tenant"
	"github.com/kenes-ai/kenes/internal/tools"
	"github.com/kenes-ai/kenes/internal/trace"

	"github.com/google/uuid"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration runtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPathFromFlag(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runServe(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if !fromFile {
		logger.Warn(ctx, "config file not found, using defaults", "path", configPath)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "kenes",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	tenants := buildTenantDirectory(cfg)

	p, err := buildPlanner(cfg)
	if err != nil {
		return err
	}

	retriever, err := buildRetriever(cfg, logger)
	if err != nil {
		return err
	}

	toolRegistry := tools.NewRegistry()
	calendarService := tools.NewLocalCalendarService()
	contactService := tools.NewLocalContactService()
	if err := registerTools(toolRegistry, calendarService, contactService, retriever, cfg.Loop.ToolTimeout.Std()); err != nil {
		return err
	}

	catalog, err := agents.NewCatalog(
		agents.NewFinanceAgent(toolRegistry, p),
		agents.NewTasksAgent(toolRegistry, p),
		agents.NewCalendarAgent(toolRegistry, p),
		agents.NewBirthdayAgent(toolRegistry, p),
		agents.NewKnowledgeAgent(toolRegistry, p),
		agents.NewContactsAgent(toolRegistry, p),
		agents.NewFallbackAgent(),
	)
	if err != nil {
		return fmt.Errorf("build agent catalog: %w", err)
	}

	stores, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rt := router.New(catalog, p, logger, metrics, cfg.Loop.ClassifyTimeout.Std())
	loop := runtime.NewLoop(rt, catalog, toolRegistry, stores.traces, runtime.NewCancelRegistry(),
		logger, metrics, tracer, runtime.Config{
			MaxHops:      cfg.Loop.MaxHops,
			ThinkTimeout: cfg.Loop.ThinkTimeout.Std(),
		})

	gw := gateway.New(loop, stores.guard, tenants, logger, metrics)

	var tgNotifier *gateway.TelegramNotifier
	var notifier reminder.Notifier
	if cfg.Telegram.Enabled {
		client, err := gateway.NewBotClient(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		tgNotifier = gateway.NewTelegramNotifier(client)
		notifier = tgNotifier
	} else {
		notifier = reminder.NotifierFunc(func(ctx context.Context, tenantID uuid.UUID, text string) error {
			logger.Info(ctx, "notification (no channel configured)", "tenant_id", tenantID.String(), "text", text)
			return nil
		})
	}

	server := gateway.NewServer(cfg.Server.Addr, gw, tgNotifier, registry, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "server listening", "addr", cfg.Server.Addr)
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Reminders.Enabled {
		source := &calendarMeetingSource{calendar: calendarService, tenants: tenants}
		scheduler := reminder.NewScheduler(source, stores.occurrences, tenants, loop, notifier,
			logger, metrics, reminder.Config{
				Tick:      cfg.Reminders.Tick.Std(),
				Lookahead: cfg.Reminders.Lookahead.Std(),
				Offsets:   cfg.ReminderOffsets(),
				Birthdays: &contactBirthdaySource{contacts: contactService},
			})
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return scheduler.Stop(stopCtx)
		})
	}

	if fromFile {
		err := config.Watch(gctx, configPath,
			func(next *config.Config) {
				// Most settings are wired at startup; surfacing the change
				// beats silently ignoring the edit.
				logger.Warn(gctx, "config file changed, restart to apply", "path", configPath)
			},
			func(err error) {
				logger.Error(gctx, "config reload failed", "error", err.Error())
			})
		if err != nil {
			logger.Warn(gctx, "config watch unavailable", "error", err.Error())
		}
	}

	return g.Wait()
}

// serveStores bundles the persistence backends selected by the storage
// driver.
type serveStores struct {
	traces      trace.Store
	guard       idempotency.Guard
	occurrences reminder.OccurrenceStore
}

func buildStores(ctx context.Context, cfg *config.Config) (*serveStores, func(), error) {
	noop := func() {}
	ttl := cfg.Dedupe.TTL.Std()

	switch cfg.Storage.Driver {
	case "memory":
		return &serveStores{
			traces:      trace.NewMemoryStore(),
			guard:       idempotency.NewMemoryGuard(ttl),
			occurrences: reminder.NewMemoryOccurrenceStore(),
		}, noop, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Storage.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		cleanup := func() { _ = db.Close() }
		traces, err := trace.NewSQLiteStore(db)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		guard, err := idempotency.NewSQLiteGuard(db, ttl)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		occurrences, err := reminder.NewSQLiteOccurrenceStore(db)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		return &serveStores{traces: traces, guard: guard, occurrences: occurrences}, cleanup, nil

	case "postgres":
		db, err := trace.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		cleanup := func() { _ = db.Close() }
		traces, err := trace.NewPostgresStore(db)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		guard, err := idempotency.NewPostgresGuard(db, ttl)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		occurrences, err := reminder.NewPostgresOccurrenceStore(db)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		return &serveStores{traces: traces, guard: guard, occurrences: occurrences}, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func buildTenantDirectory(cfg *config.Config) *tenant.StaticDirectory {
	dir := tenant.NewStaticDirectory()
	for i := range cfg.Tenants {
		dir.Put(&cfg.Tenants[i])
	}
	return dir
}

func buildPlanner(cfg *config.Config) (planner.Planner, error) {
	switch cfg.Planner.Backend {
	case "openai":
		apiKey := cfg.Planner.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("planner backend openai requires an API key")
		}
		return planner.NewOpenAIPlanner(apiKey, cfg.Planner.OpenAI.Model, cfg.Planner.OpenAI.BaseURL), nil

	case "anthropic":
		apiKey := cfg.Planner.Anthropic.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("planner backend anthropic requires an API key")
		}
		return planner.NewAnthropicPlanner(apiKey, cfg.Planner.Anthropic.Model), nil

	case "scripted":
		// Dev backend: no classification, everything degrades to the
		// fallback agent. Useful for wiring checks without credentials.
		return &planner.Scripted{
			ClassifyFn: func(context.Context, planner.ClassifyRequest) (*planner.ClassifyResult, error) {
				return &planner.ClassifyResult{}, nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown planner backend %q", cfg.Planner.Backend)
	}
}

func buildRetriever(cfg *config.Config, logger *observability.Logger) (knowledge.Retriever, error) {
	switch cfg.Knowledge.Provider {
	case "memory":
		return knowledge.NewMemoryRetriever(), nil
	case "qdrant":
		apiKey := cfg.Knowledge.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		embedder := knowledge.NewOpenAIEmbedder(apiKey, cfg.Knowledge.EmbeddingModel)
		return knowledge.NewQdrantRetriever(knowledge.QdrantConfig{
			URL:        cfg.Knowledge.QdrantURL,
			Collection: cfg.Knowledge.Collection,
		}, embedder, logger.Slog())
	default:
		return nil, fmt.Errorf("unknown knowledge provider %q", cfg.Knowledge.Provider)
	}
}

// registerTools wires the tool catalog with its dispatch policy. Booking
// an event is critical (a failed booking aborts the plan) and committing;
// writes are committing; reads are plain.
func registerTools(reg *tools.Registry, calendar tools.CalendarService, contacts tools.ContactService, retriever knowledge.Retriever, timeout time.Duration) error {
	finance := tools.NewLocalFinanceService()
	taskSvc := tools.NewLocalTaskService()

	regs := []struct {
		tool tools.Tool
		opts tools.Options
	}{
		{&tools.GetBalanceTool{Service: finance}, tools.Options{Timeout: timeout}},
		{&tools.RecordTransactionTool{Service: finance}, tools.Options{Timeout: timeout, Committing: true}},
		{&tools.CreateEventTool{Service: calendar}, tools.Options{Timeout: timeout, Critical: true, Committing: true}},
		{&tools.ListEventsTool{Service: calendar}, tools.Options{Timeout: timeout}},
		{&tools.CreateTaskTool{Service: taskSvc}, tools.Options{Timeout: timeout, Committing: true}},
		{&tools.ListTasksTool{Service: taskSvc}, tools.Options{Timeout: timeout}},
		{&tools.FindContactTool{Service: contacts}, tools.Options{Timeout: timeout}},
		{&tools.UpcomingBirthdaysTool{Service: contacts}, tools.Options{Timeout: timeout}},
		{&tools.DeepSearchTool{Retriever: retriever}, tools.Options{Timeout: timeout}},
	}
	for _, r := range regs {
		if err := reg.Register(r.tool, r.opts); err != nil {
			return fmt.Errorf("register tool: %w", err)
		}
	}
	return nil
}

// contactBirthdaySource adapts the address book to the birthday scan by
// narrowing the upcoming window down to exact date matches.
type contactBirthdaySource struct {
	contacts tools.ContactService
}

func (s *contactBirthdaySource) BirthdaysOn(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]string, error) {
	contacts, err := s.contacts.UpcomingBirthdays(ctx, tenantID, 1)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range contacts {
		if c.Birthday != nil && c.Birthday.Month() == date.Month() && c.Birthday.Day() == date.Day() {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// calendarMeetingSource adapts the calendar service to the reminder
// trigger query by scanning every tenant's events in the window.
type calendarMeetingSource struct {
	calendar tools.CalendarService
	tenants  tenant.Directory
}

func (s *calendarMeetingSource) FindDue(ctx context.Context, from, to time.Time) ([]reminder.Meeting, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []reminder.Meeting
	for _, tn := range tenants {
		events, err := s.calendar.ListEvents(ctx, tn.ID, from, to)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			id, err := uuid.Parse(ev.ID)
			if err != nil {
				id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ev.ID))
			}
			out = append(out, reminder.Meeting{
				ID:       id,
				TenantID: tn.ID,
				Title:    ev.Title,
				StartsAt: ev.StartAt,
			})
		}
	}
	return out, nil
}
