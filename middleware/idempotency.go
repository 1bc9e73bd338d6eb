package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/monitoring"
	"github.com/perstream/checkout/stores"
	"github.com/perstream/checkout/utils"
)

const minIdempotencyKeyLength = 8

// ReplayHeader marks a response served from the idempotency cache instead
// of a fresh handler execution.
const ReplayHeader = "X-Idempotency-Replay"

// Fields that define the financial intent of a request. Everything else in
// the body (metadata, notes, signatures) is excluded from the fingerprint
// so cosmetic differences between retries do not manufacture conflicts,
// while a changed amount or recipient under a reused key always does.
var financialFields = []string{
	"amount",
	"from",
	"to",
	"value",
	"checkoutId",
	"contentId",
	"payerAddress",
	"paymentMethod",
	"method",
	"requests",
}

// IdempotencyStore is the persistence the guard claims keys against.
type IdempotencyStore interface {
	GetOrCreate(ctx context.Context, route, userID, key, fingerprint string) (*models.IdempotencyResult, error)
	Complete(ctx context.Context, route, userID, key string, responseCode int, responseBody []byte, contentType string) error
	Unlock(ctx context.Context, route, userID, key string) error
}

// IdempotencyMiddleware makes mutating financial routes safe to retry. A
// request must carry an Idempotency-Key header; the first execution under a
// key caches its successful response for verbatim replay, and a reused key
// with a different financial fingerprint is rejected rather than resolved.
type IdempotencyMiddleware struct {
	store IdempotencyStore
}

func CreateIdempotencyMiddleware(store IdempotencyStore) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store}
}

func (im *IdempotencyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if len(key) < minIdempotencyKeyLength {
			writeAPIError(w, utils.ErrIdempotencyKeyRequired)
			return
		}

		userID := utils.GetUserID(ctx)
		route := r.URL.Path

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeAPIError(w, utils.ErrInvalidRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := Fingerprint(userID, r.Method, route, body)

		result, err := im.store.GetOrCreate(ctx, route, userID, key, fingerprint)
		if err != nil {
			switch {
			case errors.Is(err, stores.ErrIdempotencyMismatch):
				writeAPIError(w, utils.ErrIdempotencyConflict)
			case errors.Is(err, stores.ErrIdempotencyInProgress):
				writeAPIError(w, utils.ErrIdempotencyInProgress)
			default:
				// The store being down must not block checkout; the request
				// proceeds without replay protection and the outage is
				// logged.
				utils.Warn(ctx, "idempotency store unavailable, proceeding uncached", map[string]interface{}{
					"route": route,
					"error": err.Error(),
				})
				next.ServeHTTP(w, r)
			}
			return
		}

		if result.Replay() {
			im.replay(ctx, w, route, result.Record)
			return
		}

		capture := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(capture, r)

		if capture.statusCode >= 200 && capture.statusCode < 300 {
			err := im.store.Complete(ctx, route, userID, key, capture.statusCode, capture.body.Bytes(), capture.Header().Get("Content-Type"))
			if err != nil {
				utils.Warn(ctx, "failed to cache idempotent response", map[string]interface{}{
					"route": route,
					"error": err.Error(),
				})
			}
			return
		}

		// Failures are never cached; releasing the lock lets a corrected
		// retry execute under the same key.
		if err := im.store.Unlock(ctx, route, userID, key); err != nil {
			utils.Warn(ctx, "failed to release idempotency lock", map[string]interface{}{
				"route": route,
				"error": err.Error(),
			})
		}
	})
}

func (im *IdempotencyMiddleware) replay(ctx context.Context, w http.ResponseWriter, route string, record *models.IdempotencyRecord) {
	monitoring.RecordReplayMetrics(ctx, route)
	utils.Info(ctx, "replaying cached idempotent response", map[string]interface{}{
		"route": route,
	})

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(record.ResponseCode)
	w.Write(record.ResponseBody)
}

// Fingerprint hashes the caller identity, route, and the financially
// relevant subset of the body. Map keys serialize in sorted order, so equal
// subsets always produce equal fingerprints.
func Fingerprint(userID, method, path string, body []byte) string {
	subset := map[string]interface{}{}
	if len(body) > 0 {
		var parsed map[string]interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			subset = financialSubset(parsed).(map[string]interface{})
		}
	}

	canonical, _ := json.Marshal(subset)

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", userID, method, path)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func financialSubset(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := map[string]interface{}{}
		for _, field := range financialFields {
			if inner, ok := v[field]; ok {
				out[field] = financialSubset(inner)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = financialSubset(item)
		}
		return out
	default:
		return value
	}
}

// captureWriter tees the response so a successful body can be cached after
// the handler returns.
type captureWriter struct {
	http.ResponseWriter
	statusCode  int
	body        bytes.Buffer
	wroteHeader bool
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.statusCode = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}
