package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Bank POS callbacks and service-to-service calls carry a detached
// HMAC-SHA256 signature over the method, path, timestamp, nonce and a
// digest of the body. CallbackVerifier rejects unsigned, stale and
// replayed requests before they reach a handler.

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultSignatureSkew = 5 * time.Minute
	defaultNonceLifetime = 5 * time.Minute
)

// SigningKeySource resolves the shared keys callers sign requests with.
type SigningKeySource interface {
	SigningKey(ctx context.Context, name string) (string, error)
}

// SigningKeyFunc adapts a function to SigningKeySource.
type SigningKeyFunc func(context.Context, string) (string, error)

// SigningKey implements SigningKeySource.
func (f SigningKeyFunc) SigningKey(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: signing key source not configured")
	}
	return f(ctx, name)
}

// ReplayGuard remembers signature nonces so a captured request cannot be
// submitted a second time within the acceptance window.
type ReplayGuard interface {
	// Remember stores the nonce for the key scope until expiry and reports
	// false when the nonce was already seen.
	Remember(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryReplayGuard keeps nonces in process memory. Sufficient for a single
// instance and for tests.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryReplayGuard constructs an empty guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time)}
}

// Remember implements ReplayGuard, sweeping expired entries as it goes.
func (g *MemoryReplayGuard) Remember(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for key, exp := range g.seen {
		if exp.Before(now) {
			delete(g.seen, key)
		}
	}

	if !expiry.After(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	key := scope + "|" + nonce
	if exp, ok := g.seen[key]; ok && exp.After(now) {
		return false, nil
	}
	g.seen[key] = expiry
	return true, nil
}

// CallbackVerifier authenticates signed requests from the payment gateway
// and from trusted internal services.
type CallbackVerifier struct {
	keys    SigningKeySource
	replays ReplayGuard

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	maxSkew       time.Duration
	nonceLifetime time.Duration

	keyCache sync.Map
}

// VerifierOption customises a CallbackVerifier.
type VerifierOption func(*CallbackVerifier)

// NewCallbackVerifier builds a verifier over the given key source and
// replay guard.
func NewCallbackVerifier(keys SigningKeySource, replays ReplayGuard, opts ...VerifierOption) *CallbackVerifier {
	v := &CallbackVerifier{
		keys:            keys,
		replays:         replays,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		maxSkew:         defaultSignatureSkew,
		nonceLifetime:   defaultNonceLifetime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithVerifierLogger overrides the verifier logger.
func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *CallbackVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierMetrics sets the metrics recorder.
func WithVerifierMetrics(metrics MetricsRecorder) VerifierOption {
	return func(v *CallbackVerifier) {
		v.metrics = metrics
	}
}

// WithVerifierClock injects a clock for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *CallbackVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithSignatureHeaders customises the header names the verifier reads.
func WithSignatureHeaders(signature, timestamp, nonce string) VerifierOption {
	return func(v *CallbackVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithSignatureSkew adjusts the accepted timestamp drift.
func WithSignatureSkew(d time.Duration) VerifierOption {
	return func(v *CallbackVerifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithNonceLifetime customises how long nonces are retained.
func WithNonceLifetime(d time.Duration) VerifierOption {
	return func(v *CallbackVerifier) {
		if d > 0 {
			v.nonceLifetime = d
		}
	}
}

// SignedCaller describes a verified signature for downstream handlers.
type SignedCaller struct {
	KeyName   string
	Timestamp time.Time
	Nonce     string
	Digest    []byte
}

type signedCallerKey struct{}

// WithSignedCaller stores the caller on the context.
func WithSignedCaller(ctx context.Context, caller *SignedCaller) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, signedCallerKey{}, caller)
}

// SignedCallerFromContext retrieves the verified caller, if any.
func SignedCallerFromContext(ctx context.Context) (*SignedCaller, bool) {
	caller, ok := ctx.Value(signedCallerKey{}).(*SignedCaller)
	if !ok || caller == nil {
		return nil, false
	}
	return caller, true
}

type verifyFailure struct {
	status  int
	code    string
	message string
	reason  string
}

// RequireSigned enforces a valid signature made with the named key.
func (v *CallbackVerifier) RequireSigned(keyName string) func(http.Handler) http.Handler {
	name := strings.TrimSpace(keyName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			caller, fail := v.verify(r, name)
			if fail != nil {
				v.record(r.Context(), false, fail.reason, start)
				respondAuthError(w, fail.status, fail.code, fail.message)
				return
			}

			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithSignedCaller(r.Context(), caller)))
		})
	}
}

// RequireSignedBy selects the signing key per request, e.g. from a path
// parameter identifying the calling service.
func (v *CallbackVerifier) RequireSignedBy(selectKey func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if selectKey == nil {
				v.record(r.Context(), false, "key_not_configured", v.now())
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "signing key selector not configured")
				return
			}

			keyName, ok := selectKey(r)
			if !ok || strings.TrimSpace(keyName) == "" {
				v.record(r.Context(), false, "signer_unknown", v.now())
				respondAuthError(w, http.StatusUnauthorized, "unknown_signer", "request signer not recognised")
				return
			}

			v.RequireSigned(keyName)(next).ServeHTTP(w, r)
		})
	}
}

func (v *CallbackVerifier) verify(r *http.Request, keyName string) (*SignedCaller, *verifyFailure) {
	ctx := r.Context()

	if keyName == "" {
		return nil, &verifyFailure{http.StatusServiceUnavailable, "verification_unavailable", "signing key not configured", "key_not_configured"}
	}

	key, err := v.signingKey(ctx, keyName)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: signing key lookup failed: %v", err)
		}
		return nil, &verifyFailure{http.StatusServiceUnavailable, "verification_unavailable", "signing key unavailable", "key_unavailable"}
	}

	encoded := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if encoded == "" {
		return nil, &verifyFailure{http.StatusUnauthorized, "signature_missing", "signature header missing", "signature_missing"}
	}

	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if timestampValue == "" {
		return nil, &verifyFailure{http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing", "timestamp_missing"}
	}

	timestamp, err := parseSignedTimestamp(timestampValue)
	if err != nil {
		return nil, &verifyFailure{http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid", "timestamp_invalid"}
	}

	if drift := v.now().Sub(timestamp); drift > v.maxSkew || drift < -v.maxSkew {
		return nil, &verifyFailure{http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", "timestamp_skew"}
	}

	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, &verifyFailure{http.StatusUnauthorized, "nonce_missing", "signature nonce missing", "nonce_missing"}
	}

	body, err := snapshotBody(r)
	if err != nil {
		return nil, &verifyFailure{http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", "body_unreadable"}
	}

	digest, err := decodeDigest(encoded)
	if err != nil {
		return nil, &verifyFailure{http.StatusUnauthorized, "signature_invalid", "signature encoding invalid", "signature_invalid"}
	}

	expected := signPayload(key, signaturePayload(r, body, timestampValue, nonce))
	if !hmac.Equal(digest, expected) {
		return nil, &verifyFailure{http.StatusUnauthorized, "signature_mismatch", "signature verification failed", "signature_mismatch"}
	}

	if v.replays == nil {
		return nil, &verifyFailure{http.StatusServiceUnavailable, "verification_unavailable", "replay guard unavailable", "replay_guard_unavailable"}
	}

	stored, err := v.replays.Remember(ctx, keyName, nonce, v.now().Add(v.nonceLifetime))
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: replay guard error: %v", err)
		}
		return nil, &verifyFailure{http.StatusServiceUnavailable, "verification_unavailable", "replay guard error", "replay_guard_error"}
	}
	if !stored {
		return nil, &verifyFailure{http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce", "nonce_replay"}
	}

	return &SignedCaller{
		KeyName:   keyName,
		Timestamp: timestamp,
		Nonce:     nonce,
		Digest:    digest,
	}, nil
}

func (v *CallbackVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "signature", success, reason, v.now().Sub(start))
}

func (v *CallbackVerifier) signingKey(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.keys == nil {
		return nil, errors.New("auth: signing key source not configured")
	}

	if cached, ok := v.keyCache.Load(name); ok {
		if key, ok := cached.([]byte); ok && len(key) > 0 {
			return key, nil
		}
	}

	raw, err := v.keys.SigningKey(ctx, name)
	if err != nil {
		return nil, err
	}
	key := []byte(raw)
	if len(key) == 0 {
		return nil, errors.New("auth: signing key is empty")
	}

	v.keyCache.Store(name, key)
	return key, nil
}

// snapshotBody reads the request body and replaces it so the handler can
// still consume it.
func snapshotBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeDigest accepts hex, the encoding the POS gateway uses, with base64
// as a fallback for internal callers.
func decodeDigest(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignedTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// signaturePayload builds the canonical string both sides sign: method,
// escaped path, timestamp, nonce and the hex body digest, newline joined.
func signaturePayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	sum := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(sum[:]),
	}, "\n"))
}

func signPayload(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
