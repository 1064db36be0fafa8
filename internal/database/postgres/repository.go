package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/snaplink/snaplink/internal/database"
	"github.com/snaplink/snaplink/internal/models"
)

type linkRecord struct {
	ID          int64          `db:"id"`
	OwnerID     int64          `db:"owner_id"`
	ShortCode   string         `db:"short_code"`
	OriginalURL string         `db:"original_url"`
	Title       sql.NullString `db:"title"`
	Clicks      int64          `db:"clicks"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *linkRecord) ToLink() *models.Link {
	link := &models.Link{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		ShortCode:   r.ShortCode,
		OriginalURL: r.OriginalURL,
		Clicks:      r.Clicks,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.Title.Valid {
		link.Title = &r.Title.String
	}

	return link
}

// LinkRepository is the authoritative store for links. The lookup cache
// must always be derivable from its contents.
type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{
		db: db,
	}
}

func (r *LinkRepository) Create(ctx context.Context, ownerID int64, shortCode, originalURL string, title *string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Create"

	rec := new(linkRecord)
	query := `INSERT INTO links(owner_id, short_code, original_url, title)
		VALUES ($1, $2, $3, $4)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, ownerID, shortCode, originalURL, title)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to create link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

func (r *LinkRepository) GetByShortCode(ctx context.Context, shortCode string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetByShortCode"

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE short_code = $1`

	err := r.db.GetContext(ctx, rec, query, shortCode)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

func (r *LinkRepository) GetByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetByIDAndOwner"

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE id = $1 AND owner_id = $2`

	err := r.db.GetContext(ctx, rec, query, id, ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

func (r *LinkRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Link, error) {
	const op = "database.postgres.LinkRepository.ListByOwner"

	var recs []linkRecord
	query := `SELECT * FROM links
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &recs, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list link records: %w", op, err)
	}

	links := make([]*models.Link, 0, len(recs))
	for i := range recs {
		links = append(links, recs[i].ToLink())
	}

	return links, nil
}

// Update modifies only the supplied fields. A nil originalURL or title
// leaves the stored value untouched.
func (r *LinkRepository) Update(ctx context.Context, id, ownerID int64, originalURL, title *string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Update"

	set := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if originalURL != nil {
		args = append(args, *originalURL)
		set = append(set, fmt.Sprintf("original_url = $%d", len(args)))
	}
	if title != nil {
		args = append(args, *title)
		set = append(set, fmt.Sprintf("title = $%d", len(args)))
	}
	set = append(set, "updated_at = NOW()")

	args = append(args, id, ownerID)
	query := fmt.Sprintf(`UPDATE links
		SET %s
		WHERE id = $%d AND owner_id = $%d
		RETURNING *`, strings.Join(set, ", "), len(args)-1, len(args))

	rec := new(linkRecord)
	err := r.db.GetContext(ctx, rec, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to update link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// Delete removes the link and returns its short code so the caller can
// evict the cache entry.
func (r *LinkRepository) Delete(ctx context.Context, id, ownerID int64) (string, error) {
	const op = "database.postgres.LinkRepository.Delete"

	var shortCode string
	query := `DELETE FROM links
		WHERE id = $1 AND owner_id = $2
		RETURNING short_code`

	err := r.db.GetContext(ctx, &shortCode, query, id, ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return "", fmt.Errorf("%s: failed to delete link record: %w", op, err)
	}

	return shortCode, nil
}

// IncrementClicks atomically bumps the click counter for the short code.
// Concurrent increments commute, so callers need no locking.
func (r *LinkRepository) IncrementClicks(ctx context.Context, shortCode string) error {
	const op = "database.postgres.LinkRepository.IncrementClicks"

	query := `UPDATE links
		SET clicks = clicks + 1
		WHERE short_code = $1`

	res, err := r.db.ExecContext(ctx, query, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to increment clicks: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return nil
}
