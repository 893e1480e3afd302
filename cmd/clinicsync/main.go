package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/thermoclinics/clinicsync/internal/allowlist"
	"github.com/thermoclinics/clinicsync/internal/archive"
	"github.com/thermoclinics/clinicsync/internal/booking"
	"github.com/thermoclinics/clinicsync/internal/calendar"
	"github.com/thermoclinics/clinicsync/internal/cascade"
	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/consumer"
	"github.com/thermoclinics/clinicsync/internal/drive"
	"github.com/thermoclinics/clinicsync/internal/handlers"
	"github.com/thermoclinics/clinicsync/internal/importer"
	"github.com/thermoclinics/clinicsync/internal/lock"
	"github.com/thermoclinics/clinicsync/internal/mail"
	"github.com/thermoclinics/clinicsync/internal/sheet"
	"github.com/thermoclinics/clinicsync/internal/tables"
	"github.com/thermoclinics/clinicsync/internal/worker"
	"github.com/thermoclinics/clinicsync/libs/config"
	"github.com/thermoclinics/clinicsync/libs/db"
	"github.com/thermoclinics/clinicsync/libs/httpx"
	"github.com/thermoclinics/clinicsync/libs/kafkax"
	otelx "github.com/thermoclinics/clinicsync/libs/otel"
	"github.com/thermoclinics/clinicsync/libs/runtime"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		hashTokenCommand(os.Args[2:])
		return
	}

	service := config.String("SERVICE_NAME", "clinicsync")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	store := sheet.NewPGStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema setup failed", "err", err)
		panic(err)
	}
	if err := ensureTables(ctx, store); err != nil {
		logger.Error("table setup failed", "err", err)
		panic(err)
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
	}
	var archiveMutex *lock.Mutex
	var marker *lock.Marker
	if rdb != nil {
		archiveMutex = lock.NewMutex(rdb, 30*time.Second)
		marker = lock.NewMarker(rdb, config.Duration("DEDUP_TTL", 10*time.Second))
	} else {
		logger.Warn("REDIS_ADDR not set; running without distributed locking")
	}

	cat := catalog.NewManager(store, logger)
	allow := allowlist.New(store, logger)

	// Folder and calendar state lives in-process; refs are persisted on
	// the catalog rows so they survive restarts of the state itself.
	driveStore := drive.NewMemStore()
	driveParent := config.String("DRIVE_PARENT_REF", "clinics")
	calSyncer := calendar.NewSyncer(calendar.NewMemService(), cat, logger)

	var mailer *mail.Mailer
	if host := strings.TrimSpace(config.String("SMTP_HOST", "")); host != "" {
		sender := mail.NewSMTPSender(host, config.String("SMTP_PORT", "587"), config.String("SMTP_FROM", ""))
		templates := mail.TemplateRefs{
			Open:     config.String("MAIL_TEMPLATE_OPEN", "bevestiging-open"),
			Besloten: config.String("MAIL_TEMPLATE_BESLOTEN", "bevestiging-besloten"),
			Default:  config.String("MAIL_TEMPLATE_DEFAULT", "bevestiging"),
		}
		mailer = mail.NewMailer(mail.DirStore{Dir: config.String("MAIL_TEMPLATE_DIR", "templates")}, sender, templates, logger)
	} else {
		logger.Warn("SMTP_HOST not set; confirmation mail disabled")
	}

	rec := booking.NewReconciler(store, cat, allow, driveStore, driveParent, calSyncer, mailer, logger)
	casc := cascade.NewPropagator(store, cat, driveStore, calSyncer, logger)
	engine := archive.NewEngine(store, cat, logger)
	imp := importer.New(store, cat, rec, logger)

	archiveWorker := worker.New(engine, archiveMutex, logger, worker.Config{
		Interval:      config.Duration("ARCHIVE_INTERVAL", 24*time.Hour),
		SweepArchived: config.Bool("ARCHIVE_SWEEP_DELETE", false),
	})
	go archiveWorker.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		eventConsumer := consumer.New(logger, store, rec, marker, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "clinicsync"),
			Topic:   config.String("KAFKA_CONSUME_TOPIC", "forms.submission.received.v1"),
		})
		go eventConsumer.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; submission intake disabled")
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	admin := handlers.NewAdminHandler(store, cat, casc, calSyncer, archiveWorker, engine, imp, logger)
	adminMux := http.NewServeMux()
	admin.Register(adminMux)
	mux.Handle("/v1/", handlers.BearerAuth(config.String("ADMIN_TOKEN_BCRYPT", ""), adminMux))

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(config.Int64("MAX_BODY_BYTES", 4<<20)),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 30*time.Second)),
	}
	if rdb != nil {
		rl := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, "rl")
		middlewares = append(middlewares, rl.Middleware(logger, true))
	}
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func ensureTables(ctx context.Context, store sheet.Store) error {
	if err := store.EnsureTable(ctx, tables.Catalog, tables.CatalogHeaders()); err != nil {
		return err
	}
	for _, table := range []string{tables.OpenResponses, tables.BeslotenResponses} {
		if err := store.EnsureTable(ctx, table, tables.ResponseHeaders()); err != nil {
			return err
		}
	}
	return store.EnsureTable(ctx, tables.NonParticipantMails, []string{tables.ColAllowedEmail})
}

func hashTokenCommand(args []string) {
	if len(args) != 1 {
		os.Stderr.WriteString("usage: clinicsync hash-token <token>\n")
		os.Exit(2)
	}
	hash, err := handlers.HashToken(args[0])
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	os.Stdout.WriteString(hash + "\n")
}
