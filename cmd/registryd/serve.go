package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/google/go-github/v74/github"

	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/email"
	"storj.io/cratesregistry/httpapi"
	"storj.io/cratesregistry/indexrepo"
	"storj.io/cratesregistry/indexsync"
	"storj.io/cratesregistry/jobs"
	"storj.io/cratesregistry/objectstore"
	"storj.io/cratesregistry/objectstore/fs"
	"storj.io/cratesregistry/objectstore/s3"
	"storj.io/cratesregistry/objectstore/s3mem"
	"storj.io/cratesregistry/ownership"
	"storj.io/cratesregistry/publish"
	"storj.io/cratesregistry/ratelimit"
	"storj.io/cratesregistry/tarball"
	"storj.io/cratesregistry/worker"
)

func runServe(cmd *cobra.Command, args []string) error {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if viper.GetBool("migrate") {
		if err := database.Schema.Run(ctx, log, db); err != nil {
			return fmt.Errorf("apply schema migrations: %w", err)
		}
	}

	store, err := buildObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	mailer := buildMailer(cfg.SMTP, cfg.BaseURL)

	var teamChecker ownership.TeamChecker
	if cfg.GitHub.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token})
		teamChecker = &ownership.GitHubTeamChecker{Client: github.NewClient(oauth2.NewClient(ctx, ts))}
	}

	ownershipEngine := &ownership.Engine{Teams: teamChecker, Mailer: mailer}

	limiter := ratelimit.New(db, publishRateLimits)

	categories, err := database.ListCategories(ctx, db)
	if err != nil {
		return fmt.Errorf("load category catalogue: %w", err)
	}
	knownCategories := make(map[string]bool, len(categories))
	for _, c := range categories {
		knownCategories[c.Slug] = true
	}

	publishCoordinator := &publish.Coordinator{
		DB:            db,
		Store:         store,
		Limiter:       limiter,
		Log:           log,
		Limits:        tarball.DefaultLimits,
		KnownCategory: func(slug string) bool { return knownCategories[slug] },
		ReservedNames: reservedCrateNames,
	}

	authenticator := &auth.Authenticator{DB: db, Sessions: auth.NewSessionCodec([]byte(cfg.SessionKey))}

	var oidcVerifier *auth.OIDCVerifier
	if cfg.OIDC.Audience != "" {
		oidcVerifier, err = auth.NewOIDCVerifier(ctx, cfg.OIDC.Audience)
		if err != nil {
			return fmt.Errorf("build oidc verifier: %w", err)
		}
	}

	server := &httpapi.Server{
		DB:            db,
		Store:         store,
		Auth:          authenticator,
		Sessions:      authenticator.Sessions,
		Publish:       publishCoordinator,
		Ownership:     ownershipEngine,
		OIDCVerifier:  oidcVerifier,
		Log:           log,
		AllowedOrigin: cfg.AllowedOrigin,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runner *worker.Runner
	if viper.GetBool("worker") {
		runner, err = buildWorker(ctx, cfg, db, store, log, mailer)
		if err != nil {
			return fmt.Errorf("build worker: %w", err)
		}
		go runner.Start(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// reservedCrateNames blocks publishing crates whose names would collide
// with the registry's own reserved namespace, per SPEC_FULL.md §4.1.
var reservedCrateNames = map[string]bool{
	"std": true, "core": true, "alloc": true, "test": true, "proc_macro": true,
}

func buildObjectStore(ctx context.Context, cfg ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case "", "fs":
		dir := cfg.FSDir
		if dir == "" {
			dir = "./data/objects"
		}
		return fs.New(dir)
	case "s3":
		return s3.New(ctx, s3.Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			UseSSL:          cfg.S3UseSSL,
		})
	case "memory":
		return s3mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown object_store.backend %q", cfg.Backend)
	}
}

func buildMailer(cfg SMTPConfig, baseURL string) *email.Notifier {
	var sender email.Sender
	if cfg.Enabled {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host: cfg.Host, Port: cfg.Port, Username: cfg.Username, Password: cfg.Password, From: cfg.From,
		})
	} else {
		dir := cfg.FileDir
		if dir == "" {
			dir = "./data/mail"
		}
		sender = &email.FileSender{Dir: dir}
	}
	return &email.Notifier{Sender: sender, BaseURL: baseURL}
}

// buildWorker wires every background job handler (package indexsync and
// package jobs) into one Runner, queue and worker-count split per
// SPEC_FULL.md §4.6: "default" does the bulk of the work, "repository"
// is single-threaded because package indexrepo serialises git writes
// through one mutex anyway, and "downloads" is reserved for future
// download-count aggregation jobs.
func buildWorker(ctx context.Context, cfg Config, db *sql.DB, store objectstore.Store, log *zap.Logger, mailer *email.Notifier) (*worker.Runner, error) {
	repo, err := indexrepo.Open(ctx, log, cfg.IndexRepo.Path, cfg.IndexRepo.Remote)
	if err != nil {
		return nil, fmt.Errorf("open index repository: %w", err)
	}

	indexHandlers := &indexsync.Handlers{DB: db, Repo: repo, Store: store, Log: log}
	readme := &jobs.ReadmeRenderer{Store: store, Log: log}
	feeds := &jobs.FeedSyncer{DB: db, Store: store, Domain: cfg.Domain, Log: log}
	defaultVersion := &jobs.DefaultVersionUpdater{DB: db, Log: log}
	publishNotifier := &jobs.PublishNotifier{DB: db, Mailer: mailer, Log: log}
	deferred := &jobs.DeferredHandlers{Log: log}

	r := worker.New(db, log, []worker.QueueConfig{
		{Queue: "default", NumWorkers: 5},
		{Queue: "repository", NumWorkers: 1},
		{Queue: "downloads", NumWorkers: 1},
	}, 250*time.Millisecond)

	r.RegisterHandler(indexsync.SyncToGitIndexJob.Name, indexHandlers.SyncToGitIndex)
	r.RegisterHandler(indexsync.SyncToSparseIndexJob.Name, indexHandlers.SyncToSparseIndex)
	r.RegisterHandler("render_and_upload_readme", readme.RenderAndUploadReadme)
	r.RegisterHandler("rss_sync_crates_feed", feeds.SyncCratesFeed)
	r.RegisterHandler("rss_sync_updates_feed", feeds.SyncUpdatesFeed)
	r.RegisterHandler("update_default_version", defaultVersion.UpdateDefaultVersion)
	r.RegisterHandler("send_publish_notification", publishNotifier.SendPublishNotification)
	r.RegisterHandler("rebuild_docs", deferred.RebuildDocs)
	r.RegisterHandler("check_typosquat", deferred.CheckTyposquat)
	r.RegisterHandler("generate_og_image", deferred.GenerateOgImage)
	r.RegisterHandler("analyze_crate_file", deferred.AnalyzeCrateFile)

	return r, nil
}
