package bootstrap

import (
	"context"
	"fmt"
	"time"

	"mailbot/adapter/in/http"
	"mailbot/adapter/in/worker"
	outcache "mailbot/adapter/out/cache"
	"mailbot/adapter/out/commerce"
	"mailbot/adapter/out/llm"
	"mailbot/adapter/out/mongodb"
	"mailbot/adapter/out/persistence"
	"mailbot/adapter/out/provider"
	"mailbot/config"
	"mailbot/core/port/out"
	"mailbot/core/service/classification"
	"mailbot/core/service/inbox"
	"mailbot/core/service/label"
	"mailbot/core/service/reply"
	"mailbot/infra/database"
	"mailbot/pkg/cache"
	"mailbot/pkg/crypto"
	"mailbot/pkg/logger"
	"mailbot/pkg/metrics"
	"mailbot/pkg/ratelimit"
	"mailbot/pkg/ticket"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	runReportRetention = 30 * 24 * time.Hour
	memoryRunReports   = 100
	latencyWindow      = 500
	startupTimeout     = 30 * time.Second
)

// Dependencies holds everything a process mode needs. Optional
// collaborators stay nil when they are not configured.
type Dependencies struct {
	Config *config.Config

	// Storage
	SQLDB   *sqlx.DB
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Cache   *cache.RedisCache
	MongoDB *mongo.Client

	// Adapters
	Gmail      *provider.GmailAdapter
	Shopify    *commerce.ShopifyAdapter
	Drafter    *llm.Drafter
	ReplyLog   *persistence.ReplyLogAdapter
	Reports    out.RunReportRepository
	Guard      out.ReplyGuard
	OAuthState http.OAuthStateStore

	// Services
	Rulebook   *config.Rulebook
	Classifier *classification.Classifier
	Resolver   *reply.Resolver
	Hours      *reply.BusinessHours
	Inbox      *inbox.Service
	History    *inbox.History

	Dispatcher  *worker.PoolDispatcher
	Metrics     *metrics.Registry
	APILimiter  *ratelimit.SlidingWindowLimiter
	DraftQuota  *ratelimit.DailyQuota
	SendLimiter *ratelimit.SlidingWindowLimiter
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Reply log (sqlx: postgres via lib/pq, or sqlite)
	sqlDB, err := database.OpenSQL(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("open reply log: %w", err))
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	deps.ReplyLog = persistence.NewReplyLogAdapter(sqlDB)
	if err := deps.ReplyLog.Migrate(ctx); err != nil {
		return fail(fmt.Errorf("migrate reply log: %w", err))
	}
	logger.Info("Reply log ready (driver=%s)", cfg.DatabaseDriver)

	// pgxpool only backs readiness and pool stats
	if cfg.DatabaseDriver == database.DriverPostgres {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("pgxpool connection failed: %v", err)
		} else {
			deps.DB = db
			cleanups = append(cleanups, db.Close)
		}
	}

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, using in-process fallbacks: %v", err)
		} else {
			deps.Redis = redisClient
			deps.Cache = cache.NewRedisCache(redisClient, "mailbot")
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	// Run reports: MongoDB when configured, else memory
	deps.Reports = persistence.NewMemoryRunReportStore(memoryRunReports)
	if cfg.MongoDBURL != "" {
		mongoClient, err := database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, keeping run reports in memory: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })

			reports := mongodb.NewRunReportAdapter(mongoClient.Database(cfg.MongoDBName), runReportRetention)
			if err := reports.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure run report indexes: %v", err)
			}
			deps.Reports = reports
		}
	}

	// Gmail
	var enc *crypto.Encryptor
	if cfg.TokenEncryptionKey != "" {
		enc, err = crypto.NewEncryptor([]byte(cfg.TokenEncryptionKey))
		if err != nil {
			return fail(fmt.Errorf("token encryption: %w", err))
		}
	}
	deps.Gmail = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		FromAddress:  cfg.GmailUserAddress,
		Timeout:      cfg.GmailTimeout,
	}, provider.NewTokenStore(cfg.GmailTokenFile, enc), logger.Component("gmail"))

	if deps.Cache != nil {
		deps.OAuthState = outcache.NewRedisStateStore(deps.Cache)
	} else {
		deps.OAuthState = outcache.NewMemoryStateStore()
	}

	// Rules and templates
	rulebook, err := config.LoadRulebook(cfg.RulebookPath)
	if err != nil {
		return fail(err)
	}
	for _, w := range rulebook.Warnings {
		logger.Warn("Rulebook: %s", w)
	}
	deps.Rulebook = rulebook
	deps.Classifier = classification.NewClassifier(rulebook.Rules)

	// Reply resolver
	if err := wireResolver(deps); err != nil {
		return fail(err)
	}

	// Reply guard
	if deps.Cache != nil {
		deps.Guard = outcache.NewRedisReplyGuard(deps.Cache, cfg.ReplyCooldown)
	} else {
		deps.Guard = outcache.NewLogReplyGuard(deps.ReplyLog, cfg.ReplyCooldown)
	}

	deps.SendLimiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, "mailbot:send", cfg.MaxRepliesPerHr, time.Hour)
	deps.APILimiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, "mailbot:api", 120, time.Minute)
	deps.Metrics = metrics.NewRegistry(latencyWindow)

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.Workers = cfg.WorkerMax
	poolConfig.MessageTimeout = cfg.MessageTimeout
	deps.Dispatcher = worker.NewPoolDispatcher(poolConfig, logger.Component("dispatcher"))

	labels := label.NewApplier(deps.Gmail, logger.Component("labels"))
	if deps.Gmail.Authorized() {
		names := rulebook.Rules.Labels()
		if cfg.AutoReply && cfg.AutoRepliedLabel != "" {
			names = append(names, cfg.AutoRepliedLabel)
		}
		labels.Warm(ctx, names)
	}

	var own []string
	if cfg.GmailUserAddress != "" {
		own = append(own, cfg.GmailUserAddress)
	}
	deps.Inbox = inbox.NewService(inbox.Config{
		Mailbox:          deps.Gmail,
		Classifier:       deps.Classifier,
		Labels:           labels,
		Resolver:         deps.Resolver,
		ReplyLog:         deps.ReplyLog,
		Guard:            deps.Guard,
		Reports:          deps.Reports,
		SendLimiter:      deps.SendLimiter,
		Metrics:          deps.Metrics,
		Dispatcher:       deps.Dispatcher,
		Hours:            deps.Hours,
		Query:            cfg.GmailQuery,
		MaxMessages:      cfg.GmailMaxResults,
		AutoReply:        cfg.AutoReply,
		AutoRepliedLabel: cfg.AutoRepliedLabel,
		OwnAddresses:     own,
		Logger:           logger.Component("inbox"),
	})
	if deps.Gmail.Authorized() {
		if addr := deps.Gmail.ProfileAddress(ctx); addr != "" {
			deps.Inbox.AddOwnAddress(addr)
		}
	}
	deps.History = inbox.NewHistory(deps.ReplyLog, deps.Reports)

	return deps, cleanup, nil
}

// wireResolver builds the reply chain. Shopify and the drafter are optional;
// the resolver only sees them when they are configured.
func wireResolver(deps *Dependencies) error {
	cfg := deps.Config

	days, err := reply.ParseWeekdays(cfg.OperatingDays)
	if err != nil {
		return fmt.Errorf("operating days: %w", err)
	}
	hours, err := reply.NewBusinessHours(cfg.StoreTimezone, cfg.QuietHoursStart, cfg.QuietHoursEnd, days)
	if err != nil {
		return fmt.Errorf("business hours: %w", err)
	}
	loc, err := time.LoadLocation(cfg.StoreTimezone)
	if err != nil {
		loc = time.UTC
	}

	tickets, err := ticket.NewIssuer(cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("ticket issuer: %w", err)
	}

	deps.Hours = hours

	rc := reply.ResolverConfig{
		Templates:    deps.Rulebook.Templates,
		Hours:        hours,
		OrderIDs:     reply.NewOrderIDExtractor(cfg.OrderIDPrefixes),
		Tickets:      tickets,
		Brand:        cfg.Brand,
		DraftTimeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
		Logger:       logger.Component("resolver"),
	}

	if cfg.ShopifyEnabled() {
		shopify, err := commerce.NewShopifyAdapter(commerce.ShopifyConfig{
			Store:      cfg.ShopifyStore,
			Token:      cfg.ShopifyToken,
			APIVersion: cfg.ShopifyAPIVersion,
			Timeout:    cfg.ShopifyTimeout,
			CacheTTL:   cfg.OrderCacheTTL,
		}, deps.Cache, logger.Component("shopify"))
		if err != nil {
			return err
		}
		deps.Shopify = shopify
		rc.Commerce = shopify
		rc.LookupTimeout = cfg.ShopifyTimeout
	} else {
		logger.Info("Shopify not configured, order lookups disabled")
	}

	if cfg.DrafterEnabled() {
		drafter, err := llm.NewDrafter(llm.DrafterConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		}, logger.Component("drafter"))
		if err != nil {
			return err
		}
		deps.Drafter = drafter
		deps.DraftQuota = ratelimit.NewDailyQuota(deps.Redis, "mailbot:drafts", cfg.AIDailyQuota, loc)
		rc.Drafter = drafter
		rc.Quota = deps.DraftQuota
	} else {
		logger.Info("OpenAI not configured, drafted replies disabled")
	}

	deps.Resolver = reply.NewResolver(rc)
	return nil
}
