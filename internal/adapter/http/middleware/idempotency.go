package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/usecase"
)

// IdempotencyKeyHeader names the client chosen key of a mutating request.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayHeader is set on responses served from the idempotency store.
const ReplayHeader = "X-Idempotency-Replay"

// storedResponse is the value kept under an idempotency key. Status is zero
// while the first request is still running.
type storedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Idempotency replays the response of a POST or PUT sent again by the same
// caller with the same key. The key is bound to the request method, path
// and body; reusing it for a different request is rejected with 422.
func Idempotency(store usecase.IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = usecase.IdempotencyKeyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			if p, ok := domain.PrincipalFromContext(r.Context()); ok {
				key = p.Address.String() + ":" + key
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			claim := storedResponse{Fingerprint: fingerprint(r, body)}
			pending, _ := json.Marshal(claim)

			exists, cached, err := store.CheckAndSet(r.Context(), key, pending, ttl)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "idempotency check failed")
				return
			}
			if exists {
				replay(w, claim.Fingerprint, cached)
				return
			}

			var buf bytes.Buffer
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			logger := zerolog.Ctx(r.Context())
			status := statusOf(ww)
			if status < 200 || status >= 300 {
				if err := store.Release(r.Context(), key); err != nil {
					logger.Warn().Err(err).Str("key", key).Msg("failed to release idempotency key")
				}
				return
			}

			claim.Status = status
			if json.Valid(buf.Bytes()) {
				claim.Body = buf.Bytes()
			}
			done, _ := json.Marshal(claim)
			if err := store.Update(r.Context(), key, done, ttl); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("failed to cache idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, fp string, cached []byte) {
	var prev storedResponse
	if err := json.Unmarshal(cached, &prev); err != nil || prev.Status == 0 {
		writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
		return
	}
	if prev.Fingerprint != fp {
		writeError(w, http.StatusUnprocessableEntity, "idempotency key was used for a different request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(prev.Status)
	_, _ = w.Write(prev.Body)
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method+" "+r.URL.Path+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
