// Package app assembles the service from configuration: stores, the OAuth
// service, calendar providers, messaging and the notification trigger.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/npjlab/pauta/internal/agenda/application"
	agendaDomain "github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/agenda/infrastructure/messaging"
	agendaPersistence "github.com/npjlab/pauta/internal/agenda/infrastructure/persistence"
	agendaRedis "github.com/npjlab/pauta/internal/agenda/infrastructure/redis"
	"github.com/npjlab/pauta/internal/agenda/setup"
	"github.com/npjlab/pauta/internal/identity/oauth"
	identityPersistence "github.com/npjlab/pauta/internal/identity/persistence"
	"github.com/npjlab/pauta/internal/shared/infrastructure/crypto"
	"github.com/npjlab/pauta/internal/shared/infrastructure/database"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
	"github.com/npjlab/pauta/internal/shared/infrastructure/migrations"
	"github.com/npjlab/pauta/pkg/config"
	"github.com/npjlab/pauta/pkg/observability"
)

// Container holds the wired application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	ScheduleRepo agendaDomain.ScheduleItemRepository
	TokenRepo    oauth.TokenRepository
	OAuthService *oauth.Service
	Registry     *application.ProviderRegistry
	Publisher    eventbus.Publisher
	Messenger    application.Messenger
	Notifier     *application.NotificationTrigger
	Health       *observability.HealthRegistry

	db          *sql.DB
	pool        *pgxpool.Pool
	redisClient *goredis.Client
	amqpPub     *eventbus.RabbitMQPublisher
	amqpMsg     *messaging.AMQPMessenger
}

// NewContainer builds the full dependency graph. Missing optional backends
// (Redis, RabbitMQ) degrade to local fallbacks in development and fail hard
// in production.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	if err := c.initStores(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if err := c.initOAuth(cfg); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initMessaging(cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.Registry = setup.BuildProviderRegistry(cfg, c.OAuthService, logger)

	notifier := application.NewNotificationTrigger(c.ScheduleRepo, c.Messenger, logger).
		WithPublisher(c.Publisher).
		WithWindow(cfg.ReminderWindow)
	if c.redisClient != nil {
		notifier = notifier.WithThrottle(agendaRedis.NewReminderThrottle(c.redisClient))
	}
	c.Notifier = notifier

	return c, nil
}

func (c *Container) initStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.UsesPostgres() {
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		c.pool = pool
		c.ScheduleRepo = agendaPersistence.NewPostgresScheduleItemRepository(pool)
		c.TokenRepo = identityPersistence.NewPostgresTokenRepository(pool)
		c.Health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
		logger.Info("connected to Postgres")
		return nil
	}

	db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	c.db = db
	c.ScheduleRepo = agendaPersistence.NewSQLiteScheduleItemRepository(db)
	c.TokenRepo = identityPersistence.NewSQLiteTokenRepository(db)
	c.Health.Register("database", observability.DatabaseHealthChecker(db.PingContext))
	logger.Info("using local SQLite database", "path", cfg.SQLitePath)
	return nil
}

func (c *Container) initOAuth(cfg *config.Config) error {
	if cfg.OAuthClientID == "" {
		// Without OAuth only the CalDAV provider can be used.
		return nil
	}

	encrypter, err := crypto.NewAESGCMFromBase64Key(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	service, err := oauth.NewService(
		string(agendaDomain.ProviderGoogle),
		cfg.OAuthClientID,
		cfg.OAuthClientSecret,
		cfg.OAuthAuthURL,
		cfg.OAuthTokenURL,
		cfg.OAuthRedirectURL,
		oauth.ScopesFromEnv(cfg.OAuthScopes),
		c.TokenRepo,
		encrypter,
	)
	if err != nil {
		return fmt.Errorf("failed to build oauth service: %w", err)
	}
	c.OAuthService = service
	return nil
}

func (c *Container) initMessaging(cfg *config.Config, logger *slog.Logger) error {
	if cfg.RabbitMQURL != "" {
		pub, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			}
			logger.Warn("RabbitMQ not available, events stay in-process", "error", err)
		} else {
			c.amqpPub = pub
			c.Publisher = pub
		}

		msg, err := messaging.NewAMQPMessenger(cfg.RabbitMQURL, logger)
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("failed to connect reminder messenger: %w", err)
			}
			logger.Warn("reminder messenger not available, logging reminders", "error", err)
		} else {
			c.amqpMsg = msg
			c.Messenger = msg
		}
	}
	if c.Publisher == nil {
		c.Publisher = eventbus.NewNoopPublisher(logger)
	}
	if c.Messenger == nil {
		c.Messenger = messaging.NewLogMessenger(logger)
	}

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		client := goredis.NewClient(opts)
		c.redisClient = client
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	return nil
}

// Close releases all held connections.
func (c *Container) Close() {
	if c.amqpMsg != nil {
		if err := c.amqpMsg.Close(); err != nil {
			c.Logger.Warn("failed to close messenger", "error", err)
		}
	}
	if c.amqpPub != nil {
		if err := c.amqpPub.Close(); err != nil {
			c.Logger.Warn("failed to close publisher", "error", err)
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.Logger.Warn("failed to close database", "error", err)
		}
	}
}
