package middleware

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/cache"
	"github.com/TotemHolder-js/EchoShock/internal/metrics"
)

const maxCachedBody = 1 << 20

// captureWriter tees the response into buf while it goes to the client.
type captureWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.overflow {
		if cw.buf.Len()+len(b) > maxCachedBody {
			cw.overflow = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdr)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
	copy(out[8:], hdr)
	copy(out[8+len(hdr):], body)
	return out, nil
}

func decodePayload(b []byte) (int, http.Header, []byte, bool) {
	if len(b) < 8 {
		return 0, nil, nil, false
	}
	status := int(binary.BigEndian.Uint32(b[0:4]))
	n := int(binary.BigEndian.Uint32(b[4:8]))
	if n < 0 || 8+n > len(b) {
		return 0, nil, nil, false
	}
	header := make(http.Header)
	if n > 0 {
		if err := json.Unmarshal(b[8:8+n], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, b[8+n:], true
}

// freshFor is how long a response may be cached: ttl, cut short by its
// Expires header. Cache-Control: no-store and an Expires at or before now
// give zero.
func freshFor(header http.Header, ttl time.Duration, now time.Time) time.Duration {
	if strings.Contains(header.Get("Cache-Control"), "no-store") {
		return 0
	}
	if v := header.Get("Expires"); v != "" {
		exp, err := http.ParseTime(v)
		if err != nil {
			return 0
		}
		if left := exp.Sub(now); left < ttl {
			return left
		}
	}
	return ttl
}

// ResponseCache serves repeated anonymous GETs from store. Signed-in
// requests always bypass it: admins see unpublished content on the same
// URLs, so their responses must never be stored or served from here.
// Only 200 responses are stored, and never past their Expires header, so a
// cached listing cannot outlive a publish date or Glade window boundary.
// Store errors degrade to a pass-through.
func ResponseCache(store cache.Store, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if store == nil || ttl <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || auth.FromContext(r.Context()).State() != auth.StateAnonymous {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := cache.Key(r.Method, r.URL.Path, r.URL.RawQuery)

			if b, ok, err := store.Get(ctx, key); err != nil {
				logger.Warn("response cache read failed", slog.String("error", err.Error()))
			} else if ok {
				if status, header, body, valid := decodePayload(b); valid {
					m.CacheResult(true)
					for k, vs := range header {
						if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, "Set-Cookie") {
							continue
						}
						for _, v := range vs {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(status)
					_, _ = w.Write(body)
					return
				}
			}

			m.CacheResult(false)
			w.Header().Set("X-Cache", "MISS")
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status != http.StatusOK || cw.overflow || w.Header().Get("Set-Cookie") != "" {
				return
			}
			entryTTL := freshFor(w.Header(), ttl, time.Now())
			if entryTTL <= 0 {
				return
			}
			header := w.Header().Clone()
			header.Del("X-Cache")
			payload, err := encodePayload(cw.status, header, cw.buf.Bytes())
			if err != nil {
				return
			}
			// The request context may already be done once the client has its bytes.
			setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := store.Set(setCtx, key, payload, entryTTL); err != nil {
				logger.Warn("response cache write failed", slog.String("error", err.Error()))
			}
		})
	}
}

// PurgeOnWrite drops the whole response cache after any successful
// non-GET request passing through it.
func PurgeOnWrite(store cache.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			if rw.statusCode >= 300 {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
			defer cancel()
			if err := store.Purge(ctx); err != nil {
				logger.Warn("response cache purge failed", slog.String("error", err.Error()))
			}
		})
	}
}
