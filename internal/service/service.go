package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snaplink/snaplink/internal/database"
	"github.com/snaplink/snaplink/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// shortCodeAlphabet is the case-sensitive alphanumeric alphabet codes are
// drawn from. With the default length of 8 the keyspace is 62^8, so blind
// collisions are rare but still handled by the retry loop.
const shortCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	defaultShortCodeLength = 8
	defaultCacheTTL        = 24 * time.Hour

	// backgroundTimeout bounds detached cache-warm and click-increment work.
	backgroundTimeout = 5 * time.Second
)

// ErrMaxRetriesExceeded is returned when the maximum number of retries for generating a short code is exceeded.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

// LinkRepository defines the interface for the authoritative link store.
type LinkRepository interface {
	// Create inserts a new link. It fails with database.ErrShortCodeExists
	// when the short code collides with an existing one.
	Create(ctx context.Context, ownerID int64, shortCode, originalURL string, title *string) (*models.Link, error)

	// GetByShortCode retrieves a link by its short code.
	GetByShortCode(ctx context.Context, shortCode string) (*models.Link, error)

	// GetByIDAndOwner retrieves a link by id, enforcing ownership.
	GetByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Link, error)

	// ListByOwner retrieves all links created by the owner, newest first.
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Link, error)

	// Update modifies only the supplied fields of an owned link.
	Update(ctx context.Context, id, ownerID int64, originalURL, title *string) (*models.Link, error)

	// Delete removes an owned link and returns its short code.
	Delete(ctx context.Context, id, ownerID int64) (string, error)

	// IncrementClicks atomically increments the click counter.
	IncrementClicks(ctx context.Context, shortCode string) error
}

// LinkCache defines the interface for the fast short code lookup cache.
// Get reports a missing entry with database.ErrCacheMiss.
type LinkCache interface {
	Get(ctx context.Context, shortCode string) (string, error)
	Set(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error
	Delete(ctx context.Context, shortCode string) error
}

// TitleSuggester produces candidate titles for a destination URL.
type TitleSuggester interface {
	Suggest(ctx context.Context, rawURL string) []string
}

// LinkService orchestrates link management and short code resolution over
// the authoritative repository and the lookup cache.
type LinkService struct {
	repo            LinkRepository
	cache           LinkCache
	titles          TitleSuggester
	logger          *slog.Logger
	shortCodeLength int
	cacheTTL        time.Duration
}

// NewLinkService creates a new LinkService. Non-positive shortCodeLength or
// cacheTTL fall back to the defaults (8 characters, 24 hours).
func NewLinkService(repo LinkRepository, cache LinkCache, titles TitleSuggester, logger *slog.Logger, shortCodeLength int, cacheTTL time.Duration) *LinkService {
	if shortCodeLength <= 0 {
		shortCodeLength = defaultShortCodeLength
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &LinkService{
		repo:            repo,
		cache:           cache,
		titles:          titles,
		logger:          logger,
		shortCodeLength: shortCodeLength,
		cacheTTL:        cacheTTL,
	}
}

// background runs fn detached from the request that spawned it. The work
// survives client disconnects and is bounded by its own timeout.
func (s *LinkService) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(ctx, backgroundTimeout)
		defer cancel()

		fn(ctx)
	}()
}

// CreateLink generates a short code for the original URL and stores the link.
// Code uniqueness is enforced by the store's unique constraint: on collision
// a fresh code is generated, up to a bounded number of attempts. The cache
// is warmed after insert; a cache failure never fails the creation.
func (s *LinkService) CreateLink(ctx context.Context, ownerID int64, originalURL string, title *string) (*models.Link, error) {
	const op = "service.LinkService.CreateLink"
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		shortCode, err := gonanoid.Generate(shortCodeAlphabet, s.shortCodeLength)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		link, err := s.repo.Create(ctx, ownerID, shortCode, originalURL, title)
		if err != nil {
			if errors.Is(err, database.ErrShortCodeExists) {
				continue
			}

			return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
		}

		if err := s.cache.Set(ctx, link.ShortCode, link.OriginalURL, s.cacheTTL); err != nil {
			s.logger.Warn("failed to warm link cache", slog.String("short_code", link.ShortCode), slog.Any("err", err))
		}

		return link, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// Resolve returns the original URL for the short code using the cache-aside
// pattern: the cache is consulted first and the store only on miss. The
// click increment, and the cache warm on miss, run as detached background
// work so they never delay the redirect.
func (s *LinkService) Resolve(ctx context.Context, shortCode string) (string, error) {
	const op = "service.LinkService.Resolve"

	originalURL, err := s.cache.Get(ctx, shortCode)
	if err == nil {
		s.background(ctx, func(ctx context.Context) {
			if err := s.repo.IncrementClicks(ctx, shortCode); err != nil {
				s.logger.Error("failed to increment clicks", slog.String("short_code", shortCode), slog.Any("err", err))
			}
		})

		return originalURL, nil
	}

	if !errors.Is(err, database.ErrCacheMiss) {
		s.logger.Warn("link cache lookup failed", slog.String("short_code", shortCode), slog.Any("err", err))
	}

	link, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	s.background(ctx, func(ctx context.Context) {
		if err := s.cache.Set(ctx, link.ShortCode, link.OriginalURL, s.cacheTTL); err != nil {
			s.logger.Warn("failed to warm link cache", slog.String("short_code", link.ShortCode), slog.Any("err", err))
		}
	})
	s.background(ctx, func(ctx context.Context) {
		if err := s.repo.IncrementClicks(ctx, shortCode); err != nil {
			s.logger.Error("failed to increment clicks", slog.String("short_code", shortCode), slog.Any("err", err))
		}
	})

	return link.OriginalURL, nil
}

// GetLink retrieves a single link owned by the caller.
func (s *LinkService) GetLink(ctx context.Context, id, ownerID int64) (*models.Link, error) {
	const op = "service.LinkService.GetLink"

	link, err := s.repo.GetByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get link: %w", op, err)
	}

	return link, nil
}

// ListLinks retrieves all links owned by the caller, newest first.
func (s *LinkService) ListLinks(ctx context.Context, ownerID int64) ([]*models.Link, error) {
	const op = "service.LinkService.ListLinks"

	links, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list links: %w", op, err)
	}

	return links, nil
}

// UpdateLink modifies the supplied fields of an owned link. When the
// original URL changes, the cache entry is overwritten in the same logical
// operation so stale redirects cannot outlive the call; a cache failure is
// logged and swallowed since the TTL bounds the staleness window.
func (s *LinkService) UpdateLink(ctx context.Context, id, ownerID int64, originalURL, title *string) (*models.Link, error) {
	const op = "service.LinkService.UpdateLink"

	link, err := s.repo.Update(ctx, id, ownerID, originalURL, title)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to update link: %w", op, err)
	}

	if originalURL != nil {
		if err := s.cache.Set(ctx, link.ShortCode, link.OriginalURL, s.cacheTTL); err != nil {
			s.logger.Warn("failed to overwrite link cache", slog.String("short_code", link.ShortCode), slog.Any("err", err))
		}
	}

	return link, nil
}

// DeleteLink removes an owned link and evicts its cache entry synchronously,
// so the former code stops resolving even before the TTL expires.
func (s *LinkService) DeleteLink(ctx context.Context, id, ownerID int64) error {
	const op = "service.LinkService.DeleteLink"

	shortCode, err := s.repo.Delete(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("%s: failed to delete link: %w", op, err)
	}

	if err := s.cache.Delete(ctx, shortCode); err != nil {
		s.logger.Warn("failed to evict link cache", slog.String("short_code", shortCode), slog.Any("err", err))
	}

	return nil
}

// SuggestTitles returns candidate titles for the destination URL. It is
// best-effort and never fails: on fetch problems the suggester falls back
// to titles derived from the URL itself.
func (s *LinkService) SuggestTitles(ctx context.Context, rawURL string) []string {
	return s.titles.Suggest(ctx, rawURL)
}
