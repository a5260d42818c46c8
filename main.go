package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/ai"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/api"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/calendar"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/config"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/credential"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/crm"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/mail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/natsjs"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/providers"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/providers/fixture"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/providers/gmail"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/providers/outlook"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/rooms"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/secrets"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
	"github.com/inboxpilot-dev/mail-sync-infra/internal/sync"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("main: loaded environment from .env")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("main: config: %+v", config.Redact(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	sec, err := secrets.Open(secrets.Options{
		Backend:      cfg.Secrets.Backend,
		FileDir:      cfg.Secrets.FileDir,
		FilePassword: cfg.Secrets.FilePassword,
	})
	if err != nil {
		log.Fatalf("failed to open secret store: %v", err)
	}

	google := credential.NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, sec)
	microsoft := credential.NewMicrosoft(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret,
		cfg.Microsoft.RedirectURL, cfg.Microsoft.TenantID, sec)
	managers := map[mail.Kind]*credential.Manager{
		mail.KindGmail:   google,
		mail.KindOutlook: microsoft,
	}

	for kind, mgr := range managers {
		if !mgr.Configured() {
			log.Printf("main: %s oauth not configured, serving local fixture data", kind)
			continue
		}
		if _, err := mgr.Restore(ctx); err == nil {
			log.Printf("main: restored %s session", kind)
		}
	}

	var verifier *credential.Verifier
	if cfg.Google.Configured() {
		verifier, err = credential.NewGoogleVerifier(cfg.Google.ClientID)
		if err != nil {
			log.Fatalf("failed to build id token verifier: %v", err)
		}
		readyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := verifier.Ready(readyCtx); err != nil {
			log.Printf("main: JWKS warm-up incomplete: %v", err)
		}
		cancel()
	}

	directory := providers.NewDirectory()
	directory.Register(mail.KindGmail, "Gmail", "gmail", google.Connected)
	directory.Register(mail.KindOutlook, "Outlook", "outlook", microsoft.Connected)

	registry := rooms.NewRegistry(st)

	// One fixture per kind so demo-mode mutations survive across requests.
	fixtures := map[mail.Kind]*fixture.Adapter{
		mail.KindGmail:   fixture.New(mail.KindGmail),
		mail.KindOutlook: fixture.New(mail.KindOutlook),
	}

	resolver := func(ctx context.Context, kind mail.Kind) (sync.MailProvider, error) {
		mgr, ok := managers[kind]
		if !ok {
			return nil, fmt.Errorf("unknown provider kind %q", kind)
		}
		if !mgr.Configured() {
			return fixtures[kind], nil
		}
		switch kind {
		case mail.KindGmail:
			return gmail.New(ctx, mgr.TokenSource(ctx))
		case mail.KindOutlook:
			return outlook.New(ctx, mgr.TokenSource(ctx))
		}
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}

	parser := ai.New(cfg.AI.Endpoint, cfg.AI.APIKey, cfg.AI.Model)

	var cal calendar.Service
	if cfg.Google.Configured() {
		cal, err = calendar.NewGoogle(ctx, google.TokenSource(ctx))
		if err != nil {
			log.Fatalf("failed to build calendar client: %v", err)
		}
	} else {
		log.Printf("main: google oauth not configured, calendar uses local fixture")
		cal = calendar.NewFixture()
	}

	crmClient := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey)

	pub, err := natsjs.NewPublisher(cfg.NATS.URL)
	if err != nil {
		// The outbox keeps queuing; events flow once NATS is back and the
		// service restarts.
		log.Printf("main: NATS unavailable, events stay queued: %v", err)
	} else {
		defer pub.Close()
		if err := pub.EnsureStream(ctx); err != nil {
			log.Printf("main: failed to ensure stream: %v", err)
		}
		go natsjs.NewDispatcher(st, pub).Run(ctx)
	}

	engine := &sync.Engine{
		Rooms:    registry,
		Store:    st,
		Tracker:  sync.NewStatusTracker(),
		Resolver: resolver,
		Parser:   parser,
		Calendar: cal,
		CRM:      crmClient,
	}

	scheduler := sync.NewScheduler(engine, registry, 0)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	server := &api.Server{
		APIKey:    cfg.Server.APIKey,
		Managers:  managers,
		Verifier:  verifier,
		Directory: directory,
		Rooms:     registry,
		Engine:    engine,
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("main: listening on %s", cfg.Server.Addr)

	<-ctx.Done()
	log.Printf("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: server shutdown: %v", err)
	}
	scheduler.Stop()
}
