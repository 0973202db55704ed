/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed as X-Request-ID
  2. RealIP:     Client address behind a reverse proxy
  3. Logger:     slog access log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for a separately served frontend
  6. Gate:       Shared-password cookie check

ROUTE GROUPS:
  /healthz          Liveness + database ping (never gated)
  /api/auth         Password login (never gated)
  /api/readings/*   Reading CRUD
  /api/stats        Dashboard aggregate
  /api/settings/*   Settings
  /api/weather      Temperature autofill
  /api/solar        Solar outlook
  /api/ocr          Meter photo recognition
  /*                Static files (frontend)

STATIC FILE SERVING:
  Serves the built frontend from web/dist/ when it has an index.html and
  falls back to index.html for client-side routing. Without a build a
  placeholder page with a login form is served.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Password gate
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Gate        *Gate
	CORSOrigins []string
	StaticDir   string
	Logger      *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gate == nil {
		opts.Gate, _ = NewGate(GateOptions{})
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}))
	r.Use(opts.Gate.Middleware)

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", opts.Gate.Login)

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", h.ListReadings)
			r.Post("/", h.CreateReading)
			r.Get("/{id}", h.GetReading)
			r.Put("/{id}", h.UpdateReading)
			r.Delete("/{id}", h.DeleteReading)
		})

		r.Get("/stats", h.GetStats)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Put("/{key}", h.UpdateSetting)
		})

		r.Get("/weather", h.GetWeather)
		r.Get("/solar", h.GetSolar)
		r.Post("/ocr", h.ReadMeterPhoto)
	})

	mountStatic(r, opts.StaticDir)
	return r
}

// requestLogger writes one access log line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if id := middleware.GetReqID(r.Context()); id != "" {
				ww.Header().Set("X-Request-ID", id)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func mountStatic(r chi.Router, staticDir string) {
	if staticDir == "" {
		staticDir = "./web/dist"
		if _, err := os.Stat(staticDir); os.IsNotExist(err) {
			// Try relative to executable
			exe, _ := os.Executable()
			staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
		}
	}

	if _, err := os.Stat(filepath.Join(staticDir, "index.html")); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
		return
	}

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(placeholderPage))
	})
}

const placeholderPage = `<!DOCTYPE html>
<html>
<head><title>Wärmepumpe Monitor</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Wärmepumpe Monitor API</h1>
<p>The frontend is not built. Place it in <code>web/dist</code>.</p>
<form onsubmit="event.preventDefault(); fetch('/api/auth', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify({password: this.password.value})}).then(r => { if (r.ok) location.href = '/'; })">
<input type="password" name="password" placeholder="Password">
<button type="submit">Login</button>
</form>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/readings">/api/readings</a> - List readings</li>
<li><a href="/api/stats">/api/stats</a> - Dashboard statistics</li>
<li><a href="/api/solar">/api/solar</a> - Solar outlook</li>
</ul>
</body>
</html>`
