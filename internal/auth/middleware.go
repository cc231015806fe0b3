package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/operantlabs/operant/pkg/models"
)

// Middleware enforces bearer or API key auth on every request except
// the open paths. A nil or disabled service passes everything through.
func Middleware(service *Service, open map[string]bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if token := bearerToken(r); token != "" {
				identity, err := service.ValidateJWT(token)
				if err != nil {
					if logger != nil {
						logger.Warn("jwt validation failed", "error", err)
					}
					unauthorized(w, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			if key := requestAPIKey(r); key != "" {
				identity, err := service.ValidateAPIKey(key)
				if err != nil {
					if logger != nil {
						logger.Warn("api key validation failed", "error", err)
					}
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			unauthorized(w, "missing credentials")
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.CRUDResponse{
		Status:  http.StatusUnauthorized,
		Message: message,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return ""
}

func requestAPIKey(r *http.Request) string {
	for _, header := range []string{"X-API-Key", "Api-Key"} {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}
