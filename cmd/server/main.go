package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/database"
	"github.com/jikku/portfolio/internal/handlers"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/logging"
	"github.com/jikku/portfolio/internal/metrics"
	"github.com/jikku/portfolio/internal/middleware"
	"github.com/jikku/portfolio/internal/notifier"
	"github.com/jikku/portfolio/internal/security"
	"github.com/jikku/portfolio/internal/session"
)

const Version = "v0.3.0"

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "deploy":
			err = runDeploy(os.Args[2:])
		case "export":
			err = runExport(os.Args[2:])
		case "verify":
			err = runVerify(os.Args[2:])
		case "apikey":
			err = runAPIKey(os.Args[2:])
		default:
			runServer()
			return
		}
		if err != nil && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	runServer()
}

func runServer() {
	// --version and --help are not registered flags
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--version", "-version":
			printVersion()
			return
		case "--help", "-help", "-h":
			printHelp()
			return
		}
	}

	flags := config.ParseFlags()

	bootLevel := "info"
	if flags.Verbose {
		bootLevel = "debug"
	}
	logger, err := logging.New(flags.Env, bootLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if flags.Username != "" && flags.Password != "" {
		if err := setCredentialsCommand(flags.Username, flags.Password, config.ExpandPath(flags.ConfigPath)); err != nil {
			logger.Fatal("Failed to set credentials", zap.Error(err))
		}
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Rebuild the logger now that env and level are known
	if logger, err = logging.New(cfg.Server.Env, cfg.Log.Level); err != nil {
		zap.L().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	security.EnsureSecurePermissions(config.ExpandPath(flags.ConfigPath), cfg.Database.Path)

	logger.Info("Starting portfolio server",
		zap.String("version", Version),
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("domain", cfg.Server.Domain),
		zap.String("database", cfg.Database.Path),
		zap.String("redirect_mode", cfg.Site.RedirectMode),
		zap.String("session_backend", cfg.Session.Backend),
	)
	if !cfg.HasAuth() {
		logger.Warn("Admin login is not configured; the admin API is unreachable",
			zap.String("fix", "portfolio --username admin --password <password>"))
	}

	if err := database.Init(cfg.Database.Path); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	db := database.GetDB()

	backend, err := newSessionBackend(cfg)
	if err != nil {
		logger.Fatal("Failed to create session backend", zap.Error(err))
	}
	defer backend.Close()

	m := metrics.New()
	hubs := hosting.NewHubs(func(delta int) { m.LiveReloadClients.Add(float64(delta)) })
	defer hubs.Close()

	ntfy := notifier.New(cfg.Ntfy.URL, cfg.Ntfy.Topic, notifier.WithDryRun(cfg.IsDevelopment()))

	app, err := handlers.New(handlers.Deps{
		Config:   cfg,
		DB:       db,
		Sessions: backend,
		Metrics:  m,
		Notifier: ntfy,
		Hubs:     hubs,
	})
	if err != nil {
		logger.Fatal("Failed to create handlers", zap.Error(err))
	}
	defer app.Close()

	ctx := context.Background()
	if _, err := app.Manager().SeedSite(ctx, cfg.Site.Name, hosting.DefaultSite()); err != nil {
		logger.Fatal("Failed to seed site", zap.Error(err))
	}

	if cfg.IsDevelopment() {
		if err := database.GenerateMockData(db, cfg.Site.Name); err != nil {
			logger.Warn("Failed to generate mock data", zap.Error(err))
		}
	}

	handler, err := buildHandler(cfg, app, m)
	if err != nil {
		logger.Fatal("Failed to build middleware", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	var challenge *http.Server
	if cfg.TLS.Enabled {
		tlsConfig, redirect, err := setupTLS(ctx, cfg, db)
		if err != nil {
			logger.Fatal("Failed to set up TLS", zap.Error(err))
		}
		srv.TLSConfig = tlsConfig
		challenge = &http.Server{
			Addr:              ":80",
			Handler:           redirect,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ACME challenge listener failed", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr), zap.Bool("tls", srv.TLSConfig != nil))
		err := serve(srv)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if challenge != nil {
		challenge.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func serve(srv *http.Server) error {
	if srv.TLSConfig != nil {
		return srv.ListenAndServeTLS("", "")
	}
	return srv.ListenAndServe()
}

// sessionBackend is a session.Backend that owns resources
type sessionBackend interface {
	session.Backend
	Close() error
}

func newSessionBackend(cfg *config.Config) (sessionBackend, error) {
	ttl := cfg.SessionTTL()
	if cfg.Session.Backend == config.BackendRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b, err := session.NewRedisBackend(ctx, cfg.Session.RedisURL, ttl)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return session.NewMemoryBackend(ttl), nil
}

// buildHandler wraps the routes in the middleware chain, outermost first
func buildHandler(cfg *config.Config, app *handlers.App, m *metrics.Metrics) (http.Handler, error) {
	compress, err := middleware.Compress(1024)
	if err != nil {
		return nil, err
	}
	maxBody := int64(cfg.Site.MaxUploadMB)<<20 + 1<<20
	return middleware.Chain(app.Routes(),
		middleware.Logging(m),
		middleware.RequestTracing,
		middleware.SecurityHeaders(cfg.IsProduction()),
		compress,
		middleware.BodySizeLimit(middleware.MaxBodySize, "/api/deploy"),
		middleware.BodySizeLimit(maxBody),
		middleware.Recover,
	), nil
}

func printVersion() {
	fmt.Printf("Portfolio %s\n", Version)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printHelp() {
	fmt.Println("Portfolio " + Version + " - SPA host with deep-link redirects")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  portfolio [flags]")
	fmt.Println("  portfolio <command> [args]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  deploy <dir>          Upload a static export to a running server")
	fmt.Println("  export <dir>          Inject the redirect script into an export for static hosts")
	fmt.Println("  verify                Check the browser script against the server implementation")
	fmt.Println("  apikey <create|list|delete>  Manage deploy API keys")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  --config <path>       Path to config file (default: " + config.DefaultConfigPath + ")")
	fmt.Println("  --env-file <path>     Dotenv file with PORTFOLIO_* overrides (default: .env)")
	fmt.Println("  --env <environment>   development or production")
	fmt.Println("  --db <path>           Database file path (overrides config)")
	fmt.Println("  --port <port>         Server port (overrides config)")
	fmt.Println("  --mode <mode>         Redirect mode: server or client (overrides config)")
	fmt.Println("  --username <user>     Set admin username (with --password)")
	fmt.Println("  --password <pass>     Set admin password (with --username)")
	fmt.Println("  --verbose             Debug logging")
	fmt.Println("  --quiet               Errors only")
	fmt.Println("  --version             Show version and exit")
	fmt.Println("  --help, -h            Show this help")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  portfolio --username admin --password 'a long passphrase'")
	fmt.Println("  portfolio --env production --mode client")
	fmt.Println("  portfolio deploy ./dist --server https://example.com")
	fmt.Println("  portfolio export ./dist --slash as-is")
}
