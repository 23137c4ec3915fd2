package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/inventory"
	"libracirc/internal/storage"
)

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	db         *sql.DB
	logger     *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(es *eventstore.EventStore, db *sql.DB, logger *zap.Logger) Service {
	return &service{
		eventStore: es,
		db:         db,
		logger:     logger,
	}
}

// AddBook stores a title and links its authors, creating unknown authors on the way.
func (s *service) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	if nb.Title == "" {
		return nil, domainerr.Constraint("book title is required")
	}

	book := &Book{
		ID:            uuid.New(),
		Title:         nb.Title,
		ISBN:          nb.ISBN,
		PublishedYear: nb.PublishedYear,
		Publisher:     nb.Publisher,
		Genre:         nb.Genre,
		Authors:       pq.StringArray{},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO books (id, title, isbn, published_year, publisher, genre)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, book.ID, book.Title, book.ISBN, book.PublishedYear, book.Publisher, book.Genre).Scan(&book.CreatedAt)
	switch {
	case storage.IsUniqueViolation(err, "books_isbn_key"):
		return nil, domainerr.Constraint("isbn %s is already catalogued", *nb.ISBN)
	case storage.IsCheckViolation(err):
		return nil, domainerr.Constraint("invalid book fields: %v", err)
	case err != nil:
		return nil, fmt.Errorf("insert book: %w", err)
	}

	for i, name := range nb.Authors {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(book.Authors, name) {
			continue
		}

		var authorID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO authors (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), name).Scan(&authorID)
		if err != nil {
			return nil, fmt.Errorf("upsert author %q: %w", name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO book_authors (book_id, author_id, position) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, book.ID, authorID, i)
		if err != nil {
			return nil, fmt.Errorf("link author %q: %w", name, err)
		}
		book.Authors = append(book.Authors, name)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("book added", zap.String("book_id", book.ID.String()), zap.String("title", book.Title))
	return book, nil
}

// GetBook retrieves a book with its authors in catalogue order.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	query := `
		SELECT b.id, b.title, b.isbn, b.published_year, b.publisher, b.genre, b.created_at,
		       COALESCE(
		           (SELECT array_agg(a.name ORDER BY ba.position, a.name)
		            FROM book_authors ba JOIN authors a ON a.id = ba.author_id
		            WHERE ba.book_id = b.id),
		           '{}'
		       )
		FROM books b
		WHERE b.id = $1
	`
	book := &Book{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.Title,
		&book.ISBN,
		&book.PublishedYear,
		&book.Publisher,
		&book.Genre,
		&book.CreatedAt,
		&book.Authors,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.NotFound("book", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// AddInstance catalogues a physical copy. It starts available and its journal starts here.
func (s *service) AddInstance(ctx context.Context, bookID uuid.UUID, inventoryCode string) (*inventory.Instance, error) {
	inventoryCode = strings.TrimSpace(inventoryCode)
	if inventoryCode == "" {
		return nil, domainerr.Constraint("inventory code is required")
	}

	instance := &inventory.Instance{
		ID:            uuid.New(),
		BookID:        bookID,
		InventoryCode: inventoryCode,
		Status:        inventory.StatusAvailable,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO book_instances (id, book_id, inventory_code, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, instance.ID, bookID, inventoryCode, string(instance.Status)).Scan(&instance.CreatedAt, &instance.UpdatedAt)
	switch {
	case storage.IsForeignKeyViolation(err, "book_instances_book_id_fkey"):
		return nil, domainerr.NotFound("book", bookID.String())
	case storage.IsUniqueViolation(err, "book_instances_inventory_code_key"):
		return nil, domainerr.Constraint("inventory code %s is already in use", inventoryCode)
	case err != nil:
		return nil, fmt.Errorf("insert instance: %w", err)
	}

	event, err := eventstore.NewEvent(EventInstanceCataloged, InstanceCatalogedEvent{
		BookID:        bookID,
		InventoryCode: inventoryCode,
	})
	if err != nil {
		return nil, err
	}
	if err := s.eventStore.AppendTx(ctx, tx, instance.ID, "book_instance", 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("instance added",
		zap.String("instance_id", instance.ID.String()),
		zap.String("inventory_code", inventoryCode),
	)
	return instance, nil
}

func (s *service) GetInstance(ctx context.Context, id uuid.UUID) (*inventory.Instance, error) {
	instance := &inventory.Instance{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, inventory_code, status, created_at, updated_at
		FROM book_instances
		WHERE id = $1
	`, id).Scan(
		&instance.ID,
		&instance.BookID,
		&instance.InventoryCode,
		&instance.Status,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.NotFound("instance", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return instance, nil
}

// SearchCatalog finds titles whose title or any author contains text, ignoring case.
func (s *service) SearchCatalog(ctx context.Context, text string) ([]SearchResult, error) {
	query, args, err := buildSearchQuery(text, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.BookID, &r.Title, &r.Authors); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}
