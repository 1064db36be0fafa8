package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/snaplink/snaplink/internal/models"
)

// LinkService defines the interface for the core link shortening business logic.
type LinkService interface {
	// CreateLink shortens the original URL on behalf of the owner.
	// It returns the created link with its generated short code.
	CreateLink(ctx context.Context, ownerID int64, originalURL string, title *string) (*models.Link, error)

	// Resolve returns the original URL for a short code, firing the click
	// accounting and cache warming as detached background work.
	Resolve(ctx context.Context, shortCode string) (string, error)

	// GetLink retrieves a single link owned by the caller.
	GetLink(ctx context.Context, id, ownerID int64) (*models.Link, error)

	// ListLinks retrieves all links owned by the caller, newest first.
	ListLinks(ctx context.Context, ownerID int64) ([]*models.Link, error)

	// UpdateLink modifies the supplied fields of an owned link.
	UpdateLink(ctx context.Context, id, ownerID int64, originalURL, title *string) (*models.Link, error)

	// DeleteLink removes an owned link and evicts its cache entry.
	DeleteLink(ctx context.Context, id, ownerID int64) error

	// SuggestTitles returns best-effort candidate titles for a destination URL.
	SuggestTitles(ctx context.Context, rawURL string) []string
}

// RouterConfig carries the deployment-specific knobs the handlers need.
type RouterConfig struct {
	// BaseURL is the public base the short links are served from,
	// e.g. "https://snap.link". Used to render QR codes.
	BaseURL string
	// JWTSecret verifies the bearer tokens issued by the external
	// authentication service.
	JWTSecret []byte
}

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

func NewRouter(logger *httplog.Logger, svc LinkService, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/ping", handlePing)

	// Public redirect endpoint, the hot path. Everything else sits behind
	// the owner-identity middleware.
	r.Get("/{shortCode}", handleRedirect(svc))

	r.Route("/url", func(r chi.Router) {
		validate := getValidate()

		r.Use(authenticate(cfg.JWTSecret))

		r.Post("/", handleCreateLink(svc, validate))
		r.Get("/", handleListLinks(svc))
		r.Get("/title/suggestions", handleTitleSuggestions(svc, validate))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handleGetLink(svc))
			r.Put("/", handleUpdateLink(svc, validate))
			r.Delete("/", handleDeleteLink(svc))
			r.Get("/qr", handleLinkQRCode(svc, cfg.BaseURL))
		})
	})

	return r
}
