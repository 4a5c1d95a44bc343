// Package main provides the entry point for alita.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/alita/internal/browser"
	"github.com/Rorqualx/alita/internal/config"
	"github.com/Rorqualx/alita/internal/handlers"
	"github.com/Rorqualx/alita/internal/middleware"
	"github.com/Rorqualx/alita/internal/selectors"
	"github.com/Rorqualx/alita/internal/session"
	"github.com/Rorqualx/alita/pkg/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("alita %s\n", version.Full())
		return
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	cfg.Validate()
	printBanner()

	selectorsManager, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsPath != "")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize selectors manager")
	}
	defer func() {
		if err := selectorsManager.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing selectors manager")
		}
	}()

	pool := browser.NewPool(cfg)
	dispatcher := session.NewDispatcher(cfg, pool, selectorsManager)

	fetchHandler := handlers.New(dispatcher)

	mux := http.NewServeMux()
	mux.HandleFunc("/get", fetchHandler.ServeHTTP)
	mux.HandleFunc("/health", fetchHandler.HandleHealth)

	var finalHandler http.Handler = mux

	// Applied in reverse order - last applied runs first:
	// Recovery (outermost) -> Logging -> RequestTimeout -> RateLimit (optional)
	// -> APIKey (optional) -> SecurityHeaders -> CORS (innermost, nearest the mux).
	finalHandler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})(finalHandler)

	finalHandler = middleware.SecurityHeaders(finalHandler)

	if cfg.APIKeyEnabled {
		log.Info().Msg("API key authentication enabled")
		finalHandler = middleware.APIKey(cfg)(finalHandler)
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().Int("requests_per_minute", cfg.RateLimitRPM).Msg("rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, false)
		finalHandler = rateLimiter.Handler()(finalHandler)
	}

	requestTimeout := cfg.ReadyStateTimeout + cfg.HTTPClientTimeout + 30*time.Second
	finalHandler = middleware.Timeout(requestTimeout)(finalHandler)

	finalHandler = middleware.Logging(finalHandler)
	finalHandler = middleware.Recovery(finalHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       requestTimeout + 10*time.Second,
		WriteTimeout:      requestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // prevent slowloris attacks
	}

	go func() {
		log.Info().
			Str("address", addr).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Bool("api_key_enabled", cfg.APIKeyEnabled).
			Msg("alita is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}

	dispatcher.Shutdown(ctx)

	log.Info().Msg("shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
        _ _ _
   __ _| (_) |_ __ _
  / _' | | | __/ _' |
 | (_| | | | || (_| |
  \__,_|_|_|\__\__,_|
                  adaptive fetch service
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting alita")
}
