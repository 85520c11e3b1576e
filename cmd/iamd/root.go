package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atonlab/iam"
	"github.com/atonlab/iam/captcha"
	"github.com/atonlab/iam/httpapi"
	"github.com/atonlab/iam/internal/mongostore"
	"github.com/atonlab/iam/session"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "iamd",
		Short:         "Identity and access management service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), v)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.prefix", "iam")
	v.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo.database", "iam")
	v.SetDefault("session.expiresIn", 24*time.Hour)
	v.SetDefault("session.sidExpiresIn", 30*24*time.Hour)
	v.SetDefault("captcha.prefix", "captcha")

	v.SetEnvPrefix("IAM")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("iamd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/iamd")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(v.GetString("log.level")); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(v.GetString("mongo.uri")))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	store := mongostore.New(mongoClient.Database(v.GetString("mongo.database")))
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}

	tickets := captcha.NewProvider(
		redisClient,
		v.GetString("captcha.prefix"),
		captcha.Config{},
		logger,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := iam.Config{
		Session: iam.SessionConfig{
			ExpiresIn:    v.GetDuration("session.expiresIn"),
			SIDExpiresIn: v.GetDuration("session.sidExpiresIn"),
			Token:        iam.TokenConfig{Secret: v.GetString("session.tokenSecret")},
		},
		Keys: iam.KeysConfig{
			AccessKey: v.GetString("keys.accessKey"),
			SecretKey: v.GetString("keys.secretKey"),
		},
		Defaults: iam.DefaultsConfig{
			Permissions: v.GetStringSlice("defaults.permissions"),
			Roles:       v.GetStringSlice("defaults.roles"),
		},
		Audit: iam.AuditConfig{
			Enabled:    v.GetBool("audit.enabled"),
			BufferSize: v.GetInt("audit.bufferSize"),
			DropIfFull: true,
			Sink:       iam.NewJSONWriterSink(logger.Writer()),
		},
		Logger: logger,
	}
	engine, err := iam.New(cfg, store.Stores(), session.NewStore(redisClient, v.GetString("redis.prefix")), tickets)
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.SetMetrics(iam.NewMetrics(registry))

	srv := httpapi.NewServer(engine, httpapi.Config{
		Keys:         cfg.Keys,
		CookieMaxAge: int(cfg.Session.SIDExpiresIn / time.Second),
		CookieSecure: v.GetBool("cookie.secure"),
		Registry:     registry,
		Captcha:      tickets,
	}, logger)

	httpServer := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("iamd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
