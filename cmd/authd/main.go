package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/COMRADE-APP/authcore"
	"github.com/COMRADE-APP/authcore/delivery"
	"github.com/COMRADE-APP/authcore/directory"
	"github.com/COMRADE-APP/authcore/httpapi"
	"github.com/COMRADE-APP/authcore/metrics/export/prometheus"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("authd exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return err
	}

	users := directory.NewRedis(redisClient)

	cfg, err := configFromEnv()
	if err != nil {
		return err
	}

	smtp := delivery.NewSMTPSender(
		envOr("SMTP_HOST", "localhost"),
		envInt("SMTP_PORT", 587),
		envOr("SMTP_FROM", "no-reply@comrade.app"),
		os.Getenv("SMTP_USER"),
		os.Getenv("SMTP_PASS"),
	)
	smtp.TLSMode = envOr("SMTP_TLS_MODE", "auto")
	smtp.Logger = logger.Named("smtp")

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(redisClient).
		WithUserDirectory(users).
		WithEmailSender(smtp).
		WithSMSGateway(delivery.NewDevSMSGateway(logger.Named("sms"))).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithMetrics(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	api := httpapi.NewServer(engine, httpapi.WithLogger(logger.Named("http")))

	root := chi.NewRouter()
	root.Mount("/", api.Handler())
	root.Handle("/metrics", prometheus.Handler(engine))

	server := &http.Server{
		Addr:         envOr("LISTEN_ADDR", ":8080"),
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func configFromEnv() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	method := envOr("JWT_SIGNING_METHOD", "ed25519")
	cfg.JWT.SigningMethod = method
	cfg.JWT.Issuer = envOr("JWT_ISSUER", cfg.JWT.Issuer)

	priv, err := keyFromEnv("JWT_PRIVATE_KEY")
	if err != nil {
		return cfg, err
	}
	cfg.JWT.PrivateKey = priv

	if method == "ed25519" {
		pub, err := keyFromEnv("JWT_PUBLIC_KEY")
		if err != nil {
			return cfg, err
		}
		cfg.JWT.PublicKey = pub
	}

	if issuer := os.Getenv("TOTP_ISSUER"); issuer != "" {
		cfg.TOTP.Issuer = issuer
	}
	return cfg, nil
}

// keyFromEnv reads a base64-encoded key from the environment.
func keyFromEnv(name string) ([]byte, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, errors.New(name + " is required")
	}
	raw, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, errors.New(name + " must be base64")
	}
	return raw, nil
}

func envOr(name, fallback string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
