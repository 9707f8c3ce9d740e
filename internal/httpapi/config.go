package httpapi

import (
	"net/http"

	"github.com/go-chi/cors"
)

const defaultMaxBodyBytes = 16 << 20

// maxBodyBytes bounds JSON request bodies. Turns carry base64 images, so the
// default is 16 MiB.
var maxBodyBytes int64 = defaultMaxBodyBytes

// SetMaxBodyBytes sets the request body limit; non-positive restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// turnTimeout bounds one POST /session/turns in seconds. Zero disables it.
var turnTimeout = int64(0)

// SetTurnTimeoutSeconds sets the turn timeout in seconds (0 disables).
func SetTurnTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	turnTimeout = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

func corsMiddleware() func(http.Handler) http.Handler {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "X-Request-Id", "X-Log-Level"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}
