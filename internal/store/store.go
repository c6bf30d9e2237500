package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/doc-collab-engine/internal/types"
)

// ErrNotFound is returned when a document, user or share token does not
// resolve to a row.
var ErrNotFound = errors.New("not found")

// Documents is the persistence contract consumed by the collaboration core.
type Documents interface {
	FindByID(ctx context.Context, id types.DocumentID) (types.Document, error)
	FindByShareHash(ctx context.Context, hash string) (types.Document, error)
	Save(ctx context.Context, doc types.Document) error
}

// Users resolves registered accounts for the identity resolver.
type Users interface {
	FindByUsername(ctx context.Context, username string) (types.User, error)
}

// Collaborators answers explicit per-document role grants.
type Collaborators interface {
	RoleFor(ctx context.Context, docID types.DocumentID, userID int64) (types.Role, error)
}

// Store implements the document, user and collaborator repositories on a
// shared Postgres pool. Transient failures are retried with backoff.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New constructs a Store using the provided Postgres pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const documentColumns = `id, title, content, content_version, status, user_id,
       COALESCE(is_public, false), COALESCE(share_enabled, false),
       COALESCE(share_token_hash, ''), COALESCE(share_role, ''), last_modified`

// FindByID loads a document row by primary key.
func (s *Store) FindByID(ctx context.Context, id types.DocumentID) (types.Document, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
                SELECT `+documentColumns+`
                FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	observeQuery("find_by_id", start, err)
	return doc, err
}

// FindByShareHash loads a document by its share token hash, requiring the
// share link to be enabled.
func (s *Store) FindByShareHash(ctx context.Context, hash string) (types.Document, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
                SELECT `+documentColumns+`
                FROM documents WHERE share_token_hash = $1 AND share_enabled = true`, hash)
	doc, err := scanDocument(row)
	observeQuery("find_by_share_hash", start, err)
	return doc, err
}

// Save overwrites the persisted content, version and modification timestamp.
func (s *Store) Save(ctx context.Context, doc types.Document) error {
	start := time.Now()
	err := s.retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
                        UPDATE documents
                        SET content = $2, content_version = $3, last_modified = $4
                        WHERE id = $1`,
			doc.ID, doc.Content, doc.Version, doc.LastModified)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("document %d: %w", doc.ID, ErrNotFound)
		}
		return nil
	})
	observeQuery("save", start, err)
	return err
}

// FindByUsername resolves a registered account.
func (s *Store) FindByUsername(ctx context.Context, username string) (types.User, error) {
	var user types.User
	err := s.pool.QueryRow(ctx, `
                SELECT id, username, COALESCE(fullname, '')
                FROM users WHERE username = $1`, username).
		Scan(&user.ID, &user.Username, &user.FullName)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return user, err
}

// RoleFor returns the explicit collaborator role for a document/user pair,
// or ErrNotFound when no grant exists.
func (s *Store) RoleFor(ctx context.Context, docID types.DocumentID, userID int64) (types.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
                SELECT role FROM document_collaborators
                WHERE document_id = $1 AND user_id = $2`, docID, userID).
		Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return types.Role(role).Normalize(), nil
}

func scanDocument(row pgx.Row) (types.Document, error) {
	var (
		doc          types.Document
		shareRole    string
		lastModified *time.Time
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Version, &doc.Status,
		&doc.OwnerID, &doc.IsPublic, &doc.ShareEnabled, &doc.ShareTokenHash,
		&shareRole, &lastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Document{}, ErrNotFound
	}
	if err != nil {
		return types.Document{}, err
	}
	doc.ShareRole = types.Role(shareRole).Normalize()
	if lastModified != nil {
		doc.LastModified = *lastModified
	}
	return doc, nil
}

func (s *Store) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == s.maxRetries {
				return err
			}
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
