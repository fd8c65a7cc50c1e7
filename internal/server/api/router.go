package api

import (
	"embed"
	"html/template"
	"io"

	"tingjian/internal/server/auth"
	"tingjian/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

//go:embed index.html
var indexFS embed.FS

// templateRenderer adapts html/template to echo's Renderer interface.
type templateRenderer struct {
	templates *template.Template
}

func (t *templateRenderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, guard auth.Guard, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Renderer = &templateRenderer{
		templates: template.Must(template.ParseFS(indexFS, "index.html")),
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	requireToken := RequireToken(guard)

	// Rate limiter on the upload endpoint only: each accepted upload
	// costs a vision model round trip.
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Informational page and stored captures; auth is configurable here,
	// mutation endpoints are always guarded.
	index := e.Group("")
	if cfg.ProtectIndex {
		index.Use(requireToken)
	}
	index.GET("/", handler.HandleIndex)
	index.Static("/captures", cfg.StoragePath)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Capture & describe (guarded, rate-limited)
	e.POST("/upload", handler.HandleUpload, requireToken, uploadLimiter.Middleware())

	// Follow-up questions (guarded)
	e.POST("/ask", handler.HandleAsk, requireToken)

	return e
}
