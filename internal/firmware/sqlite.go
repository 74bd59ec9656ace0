package firmware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timeFormat is the layout of published_at.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// SQLiteSource reads and writes releases in the firmware_releases table.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource creates a source over db. The schema is created by the
// migrations package.
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

// Fetch returns the highest published version.
func (s *SQLiteSource) Fetch(ctx context.Context) (Release, error) {
	var (
		rel        Release
		compressed []byte
		size       int
		published  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, image, size, published_at
		FROM firmware_releases
		ORDER BY version DESC
		LIMIT 1
	`).Scan(&rel.Version, &compressed, &size, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return Release{}, ErrNoRelease
	}
	if err != nil {
		return Release{}, fmt.Errorf("querying latest firmware: %w", err)
	}

	rel.Image, err = decompressImage(compressed, size)
	if err != nil {
		return Release{}, fmt.Errorf("%w: version %d: %w", ErrInvalidRelease, rel.Version, err)
	}
	if t, err := time.Parse(timeFormat, published); err == nil {
		rel.PublishedAt = t
	}
	return rel, nil
}

// Publish stores a new release. Versions must be positive and unique.
func (s *SQLiteSource) Publish(ctx context.Context, rel Release) error {
	if rel.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidRelease)
	}
	if len(rel.Image) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidRelease)
	}
	if rel.PublishedAt.IsZero() {
		rel.PublishedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firmware_releases (version, image, size, published_at)
		VALUES (?, ?, ?, ?)
	`, rel.Version, compressImage(rel.Image), len(rel.Image), rel.PublishedAt.UTC().Format(timeFormat))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %d", ErrReleaseExists, rel.Version)
		}
		return fmt.Errorf("inserting firmware %d: %w", rel.Version, err)
	}
	return nil
}
