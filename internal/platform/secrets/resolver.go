package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The gateway store key and the storage signer key arrive as secret://
// references in the environment. A Resolver turns those references into
// values at startup, caching each one so config validation and the health
// checks do not hammer Secret Manager.

const (
	defaultLocalFile = ".secrets.local"
	meterScope       = "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/secrets"
)

var newManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type managerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver resolves secret:// references against Google Secret Manager with
// an in-process cache and an optional local file for development.
type Resolver struct {
	client     managerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string

	localPath string
	localOnce sync.Once
	localVals map[string]string
	localErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency        metric.Float64Histogram
	latencyEnabled bool
	hits           metric.Int64Counter
	hitsEnabled    bool
}

type resolverConfig struct {
	logger     *zap.Logger
	projectID  string
	localPath  string
	meter      metric.Meter
	client     managerClient
	clientOpts []option.ClientOption
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) { cfg.logger = logger }
}

// WithProject sets the Google Cloud project secrets are read from. A
// reference may still override it with a ?project= query parameter.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithLocalFile overrides the path of the local key=value secrets file used
// when Secret Manager is unreachable.
func WithLocalFile(path string) Option {
	return func(cfg *resolverConfig) { cfg.localPath = strings.TrimSpace(path) }
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *resolverConfig) { cfg.meter = m }
}

// WithManagerClient injects a preconfigured Secret Manager client, primarily
// for tests.
func WithManagerClient(client managerClient) Option {
	return func(cfg *resolverConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options when dialing Secret Manager.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewResolver builds a Resolver. A missing Secret Manager credential is not
// fatal: the resolver degrades to the local file so development setups work
// without cloud access.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{
		logger:    zap.NewNop(),
		localPath: defaultLocalFile,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterScope)
	}
	latency, latencyErr := meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret reference resolution"),
	)
	if latencyErr != nil {
		cfg.logger.Warn("secrets: latency metric unavailable", zap.Error(latencyErr))
	}
	hits, hitsErr := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	)
	if hitsErr != nil {
		cfg.logger.Warn("secrets: cache hit metric unavailable", zap.Error(hitsErr))
	}

	r := &Resolver{
		logger:         cfg.logger,
		projectID:      cfg.projectID,
		localPath:      cfg.localPath,
		cache:          make(map[string]string),
		latency:        latency,
		latencyEnabled: latencyErr == nil,
		hits:           hits,
		hitsEnabled:    hitsErr == nil,
	}

	if cfg.client != nil {
		r.client = cfg.client
	} else {
		client, err := newManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using local file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the underlying Secret Manager client when the resolver owns it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference, consulting the
// cache, then Secret Manager, then the local file.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	key := parsed.cacheKey()
	if value, ok := r.cached(key); ok {
		r.countHit(ctx)
		r.observe(ctx, time.Since(start), "cache")
		return value, nil
	}

	projectID := parsed.Project
	if projectID == "" {
		projectID = r.projectID
	}

	if projectID != "" && r.client != nil {
		value, err := r.fetch(ctx, projectID, parsed)
		if err == nil {
			r.store(key, value)
			r.observe(ctx, time.Since(start), "remote")
			return value, nil
		}
		if !degradable(err) {
			r.observe(ctx, time.Since(start), "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.Canonical, err)
		}
		r.logger.Debug("secrets: degrading to local file", zap.String("ref", parsed.Canonical), zap.Error(err))
	}

	value, ok := r.local(parsed)
	if !ok {
		r.observe(ctx, time.Since(start), "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.Canonical)
	}
	r.store(key, value)
	r.observe(ctx, time.Since(start), "local")
	return value, nil
}

// Invalidate drops a cached value so the next Resolve re-reads it, e.g. after
// rotating the gateway store key.
func (r *Resolver) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, parsed.cacheKey())
	r.mu.Unlock()
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.cache[key]
	return value, ok
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, projectID string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, ref.Secret, ref.version())
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.Payload.GetData()), nil
}

func (r *Resolver) local(ref reference) (string, bool) {
	r.loadLocal()
	if r.localErr != nil {
		r.logger.Debug("secrets: local file error", zap.Error(r.localErr))
		return "", false
	}
	if value, ok := r.localVals[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := r.localVals[ref.Canonical]
	return value, ok
}

// loadLocal reads the key=value local secrets file once. Keys are secret://
// references; blank lines and # comments are skipped.
func (r *Resolver) loadLocal() {
	r.localOnce.Do(func() {
		r.localVals = map[string]string{}
		path := strings.TrimSpace(r.localPath)
		if path == "" {
			return
		}
		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.localErr = fmt.Errorf("secrets: open %s: %w", path, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, found := strings.Cut(line, "=")
			key = strings.TrimSpace(key)
			if !found || key == "" {
				continue
			}
			value = strings.TrimSpace(value)
			if parsed, err := parseReference(key); err == nil {
				r.localVals[parsed.Canonical] = value
				r.localVals[parsed.cacheKey()] = value
			} else {
				r.localVals[key] = value
			}
		}
		if err := scanner.Err(); err != nil {
			r.localErr = fmt.Errorf("secrets: read %s: %w", path, err)
		}
	})
}

func (r *Resolver) observe(ctx context.Context, d time.Duration, source string) {
	if !r.latencyEnabled {
		return
	}
	r.latency.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func (r *Resolver) countHit(ctx context.Context) {
	if !r.hitsEnabled {
		return
	}
	r.hits.Add(ctx, 1)
}

// degradable reports whether a Secret Manager failure should fall through to
// the local file. A NotFound is a real misconfiguration and surfaces as-is.
func degradable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

type reference struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func (r reference) version() string {
	if r.Version == "" {
		return "latest"
	}
	return r.Version
}

func (r reference) cacheKey() string {
	return r.Canonical + "#" + r.version()
}

// parseReference validates a secret://name[?version=N][&project=ID] reference.
func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if secret == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return reference{
		Canonical: canonical.String(),
		Secret:    secret,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}
