package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailgate/internal/authz"
	"mailgate/internal/config"
	"mailgate/internal/domain"
	"mailgate/internal/jobs"
	"mailgate/internal/observability/logging"
	"mailgate/internal/observability/metrics"
	"mailgate/internal/provider"
	"mailgate/internal/provider/dnscheck"
	"mailgate/internal/provider/dnspub"
	"mailgate/internal/provider/ses"
	"mailgate/internal/ratelimit"
	impl "mailgate/internal/service/impl"
	"mailgate/internal/store"
	httpx "mailgate/internal/transport/http"
	"mailgate/pkg/db"

	"github.com/redis/go-redis/v9"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "mailgate",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	cfg := config.Load()
	metrics.MustRegister("mailgate")

	base, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	// 1) Storage
	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(ctx); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	// 2) Providers
	sesClient, err := ses.New(ctx, ses.Config{
		Region:            cfg.AWSRegion,
		AccessKeyID:       cfg.AWSAccessKeyID,
		SecretAccessKey:   cfg.AWSSecretAccessKey,
		MailFromSubdomain: cfg.MailFromSubdomain,
		CallTimeout:       cfg.ProviderTimeout,
	}, logger)
	if err != nil {
		logger.Error("ses client", "error", err)
		os.Exit(1)
	}

	var publisher provider.DNSPublisher
	if cfg.CloudflareAPIToken != "" {
		pub, err := dnspub.New(dnspub.Config{
			APIToken:    cfg.CloudflareAPIToken,
			Zone:        cfg.CloudflareZone,
			CallTimeout: cfg.ProviderTimeout,
		})
		if err != nil {
			logger.Error("cloudflare client", "error", err)
			os.Exit(1)
		}
		publisher = pub
	} else {
		logger.Info("dns publishing disabled, records must be created manually")
	}

	resolver := dnscheck.New(cfg.DNSServer, cfg.DNSTimeout)

	// 3) Services
	audit := impl.NewAuditRecorderImpl(st, logger, cfg.AuditQueueSize)
	keySvc := impl.NewAPIKeyServiceImpl(st, audit, logger, impl.KeyOptions{
		RevokedRetention: cfg.KeyRetention,
	})

	var domainSvc *impl.DomainServiceImpl
	dispatcher := jobs.NewDispatcher(cfg.SetupWorkers, cfg.SetupQueueSize,
		func(ctx context.Context, id domain.DomainID) error { return domainSvc.Setup(ctx, id) },
		logger)
	domainSvc = impl.NewDomainServiceImpl(st, sesClient, publisher, resolver, dispatcher, audit, logger,
		impl.DomainOptions{
			PollInterval:  cfg.PollInterval,
			VerifyTimeout: cfg.VerifyTimeout,
		})
	emailSvc := impl.NewEmailServiceImpl(st, sesClient, audit, logger, impl.EmailOptions{
		Retention: cfg.EmailRetention,
	})

	// 4) Admin auth
	sessions, err := authz.NewSessions(cfg.SessionKey, "mailgate", cfg.SessionTTL)
	if err != nil {
		logger.Error("session signer", "error", err)
		os.Exit(1)
	}

	var adminPW *authz.AdminPassword
	switch {
	case cfg.AdminPasswordHash != "":
		adminPW, err = authz.NewAdminPasswordFromHash(cfg.AdminPasswordHash)
		if err != nil {
			logger.Error("admin password hash", "error", err)
			os.Exit(1)
		}
	case cfg.AdminPassword != "":
		adminPW, err = authz.NewAdminPasswordFromPlain(cfg.AdminPassword)
		if err != nil {
			logger.Error("admin password", "error", err)
			os.Exit(1)
		}
	default:
		logger.Warn("no admin password configured, interactive login disabled")
	}

	var login ratelimit.Limiter
	if cfg.RedisAddr != "" {
		login = ratelimit.NewRedis(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			cfg.LoginAttempts, cfg.LoginWindow, "mailgate:login")
	} else {
		login = ratelimit.NewLocal(cfg.LoginAttempts, cfg.LoginWindow)
	}

	// 5) Background jobs
	dispatcher.Start(ctx)

	scheduler := jobs.NewScheduler(logger)
	scheduler.Add(jobs.Job{Name: "domain_poll", Interval: cfg.PollInterval, Run: domainSvc.PollDue})
	// Pending domains are re-submitted until a worker picks them up. Heals
	// queue-full drops and domains left pending by a restart.
	scheduler.Add(jobs.Job{Name: "setup_requeue", Interval: time.Minute, Run: func(ctx context.Context) error {
		doms, err := st.Domains().ListByStatus(ctx, domain.DomainStatusPending)
		if err != nil {
			return err
		}
		for _, d := range doms {
			if !dispatcher.SubmitSetup(d.ID) {
				break
			}
		}
		return nil
	}})
	scheduler.Add(jobs.Job{Name: "email_retention", Interval: cfg.RetentionInterval, Run: emailSvc.SweepExpired})
	scheduler.Add(jobs.Job{Name: "key_archive", Interval: cfg.RetentionInterval, Run: keySvc.ArchiveExpired})
	scheduler.Start(ctx)

	// 6) HTTP
	api := &httpx.API{
		Domains:  domainSvc,
		Emails:   emailSvc,
		Keys:     keySvc,
		Audit:    audit,
		Gate:     authz.NewGate(keySvc, sessions),
		Sessions: sessions,
		AdminPW:  adminPW,
		Login:    login,
		Store:    st,
		Log:      logger,
	}
	router := httpx.NewRouter(api, httpx.Config{
		CORSOrigins:       cfg.CORSOrigins,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("mailgate listening", "addr", cfg.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}

	// Stop job loops, wait for in-flight runs, then drain the audit queue.
	cancel()
	dispatcher.Wait()
	scheduler.Wait()
	audit.Close()

	logger.Info("shutdown complete")
}
