package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/di"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/handlers"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/auth"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/config"
	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/idempotency"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/jobs"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/observability"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/secrets"
	platformstorage "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/storage"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
	firestoreRepo "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	signerKey := strings.TrimSpace(cfg.Storage.SignerKey)
	if signerKey == "" {
		logger.Fatal("storage signer key is required")
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
	if err != nil {
		logger.Fatal("failed to parse storage signer key", zap.Error(err))
	}
	signedURLClient, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Fatal("failed to initialise signed url client", zap.Error(err))
	}

	var archiver services.PhotoArchiver
	if strings.TrimSpace(cfg.Storage.ExportsBucket) != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		copier, err := platformstorage.NewCopier(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage copier", zap.Error(err))
		}
		archiver = copier
	}

	var (
		events     services.OrderEventPublisher
		eventTopic *pubsub.Topic
	)
	if topicID := strings.TrimSpace(cfg.Notifications.OrderTopicID); topicID != "" {
		var psOpts []option.ClientOption
		if cfg.Google.CredentialsFile != "" {
			psOpts = append(psOpts, option.WithCredentialsFile(cfg.Google.CredentialsFile))
		}
		psClient, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID, psOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		eventTopic = psClient.Topic(topicID)
		publisher, err := jobs.NewPubSubOrderEventPublisher(eventTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		events = publisher
	} else {
		logger.Warn("order event topic not configured; lifecycle events will not be published")
	}

	gatewayLogger := logger.Named("gateway")
	bankProvider, err := gateway.NewBankPOSProvider(gateway.BankPOSConfig{
		BaseURL:     cfg.Gateway.BaseURL,
		ClientCode:  cfg.Gateway.ClientCode,
		GatewayGUID: cfg.Gateway.TerminalGUID,
		StoreKey:    cfg.Gateway.StoreKey,
		HTTPClient:  &http.Client{Timeout: cfg.Gateway.Timeout},
		Logger:      zapEventLogger(gatewayLogger),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway provider", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, resolver, eventTopic)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Gateway:  bankProvider,
		Events:   events,
		Signer:   signedURLClient,
		Archiver: archiver,
		Build:    buildInfo,
		Logger:   zapEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	checkoutLimiter := handlers.NewRateLimiter(cfg.RateLimits.CheckoutPerMinute, time.Minute)
	paymentLimiter := handlers.NewRateLimiter(cfg.RateLimits.PaymentPerMinute, time.Minute)

	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout, checkoutLimiter)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments,
		handlers.WithPaymentRedirectBaseURL(cfg.Gateway.ResultBaseURL),
		handlers.WithPaymentRateLimiter(paymentLimiter),
	)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders)
	returnHandlers := handlers.NewReturnHandlers(svc.Returns)
	adminHandlers := handlers.NewAdminHandlers(
		handlers.WithAdminOrderService(svc.Orders),
		handlers.WithAdminReturnService(svc.Returns),
		handlers.WithAdminCounterService(svc.Counters),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
		handlers.WithInternalRoutes(adminHandlers.Routes),
	}
	if internalMW := buildInternalMiddlewares(logger.Named("auth"), cfg); len(internalMW) > 0 {
		opts = append(opts, handlers.WithInternalMiddlewares(internalMW...))
	} else {
		logger.Warn("internal authentication not configured; staff routes will reject requests")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if eventTopic != nil {
		eventTopic.Stop()
	}
}

// zapEventLogger adapts zap to the event-plus-fields callback the services and
// gateway expect.
func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("event", zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(client *firestore.Client, resolver *secrets.Resolver, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if resolver != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := resolver.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok {
					switch st.Code() {
					case codes.NotFound:
						return nil
					}
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				exists, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// buildInternalMiddlewares assembles the authentication chain guarding the
// staff surface. OIDC-verified service identities carrying a staff role are
// preferred; HMAC request signing acts as the fallback for environments
// without an identity provider.
func buildInternalMiddlewares(logger *zap.Logger, cfg config.Config) []func(http.Handler) http.Handler {
	if mw := buildOIDCMiddleware(logger, cfg); mw != nil {
		staff := auth.NewStaffAuthenticator()
		return []func(http.Handler) http.Handler{mw, staff.RequireRoles("staff", "admin")}
	}
	if mw := buildHMACMiddleware(logger, cfg); mw != nil {
		return []func(http.Handler) http.Handler{mw}
	}
	return nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	keyMap := make(map[string]string)
	for name, value := range cfg.Security.HMAC.Secrets {
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		keyMap[name] = value
	}
	if len(keyMap) == 0 {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	verifier := auth.NewCallbackVerifier(staticKeySource{keys: keyMap}, auth.NewMemoryReplayGuard(),
		auth.WithVerifierLogger(adapter),
		auth.WithSignatureHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithSignatureSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithNonceLifetime(cfg.Security.HMAC.NonceTTL),
	)

	keyName := "internal"
	if _, ok := keyMap[keyName]; !ok {
		if _, ok := keyMap["default"]; ok {
			keyName = "default"
		} else {
			for _, name := range sortedKeys(keyMap) {
				keyName = name
				break
			}
		}
	}
	return verifier.RequireSigned(keyName)
}

type staticKeySource struct {
	keys map[string]string
}

func (s staticKeySource) SigningKey(_ context.Context, name string) (string, error) {
	if len(s.keys) == 0 {
		return "", errors.New("auth: signing keys not configured")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", errors.New("auth: signing key name required")
	}
	if key, ok := s.keys[name]; ok && key != "" {
		return key, nil
	}
	return "", errors.New("auth: signing key not found")
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Google.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(env[key]); value != "" {
				return value
			}
		}
		return ""
	}

	localFile := lookup("API_SECRET_FALLBACK_FILE")
	if localFile == "" {
		localFile = ".secrets.local"
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithLocalFile(localFile),
	}
	if projectID := lookup("API_SECRET_PROJECT_ID", "API_GOOGLE_PROJECT_ID"); projectID != "" {
		opts = append(opts, secrets.WithProject(projectID))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to non-empty
// secrets before the process serves traffic. The HMAC key names come from the
// environment so each configured signer is individually required.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Gateway.StoreKey",
		"Storage.SignerKey",
	}
	for _, key := range hmacSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	sort.Strings(required)
	return slices.Compact(required)
}

// hmacSecretKeys extracts the key names from a "name=ref,name=ref" list.
func hmacSecretKeys(raw string) []string {
	var keys []string
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, strings.ToLower(name))
	}
	sort.Strings(keys)
	return slices.Compact(keys)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
