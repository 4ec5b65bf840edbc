package middleware

import (
	"log/slog"
	"net/http"

	"github.com/boltbuttar/campusgate/pkg/config"
)

// IPConnectionCounter reports how many live gateway connections an address
// currently holds.
type IPConnectionCounter func(ipAddr string) int

// NewConnectionLimiter rejects websocket handshakes from addresses that
// already hold the configured number of live connections. Connections are
// admitted anonymously, so the limit is keyed by remote IP rather than by
// user.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IPConnectionCounter,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < cfg.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("IP connection limit reached",
				slog.String("ip", reqMeta.IP),
				slog.Int("count", count),
			)
			http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
		})
	}
}
