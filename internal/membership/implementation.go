package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

// service implements the Service interface.
type service struct {
	eventStore  *eventstore.EventStore
	db          *sql.DB
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewService creates a new membership service instance. limiter throttles reader
// registration and operator logins; nil disables throttling.
func NewService(es *eventstore.EventStore, db *sql.DB, limiter *rate.Limiter, logger *zap.Logger) Service {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &service{
		eventStore:  es,
		db:          db,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// RegisterReader creates a new reader.
func (s *service) RegisterReader(ctx context.Context, name, email string, phone *string) (*Reader, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainerr.Constraint("reader name is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, domainerr.Constraint("invalid email %q", email)
	}

	reader := &Reader{
		ID:    uuid.New(),
		Name:  name,
		Email: strings.ToLower(addr.Address),
		Phone: phone,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO readers (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING registered_at
	`, reader.ID, reader.Name, reader.Email, reader.Phone).Scan(&reader.RegisteredAt)
	switch {
	case storage.IsUniqueViolation(err, "readers_email_key"):
		return nil, domainerr.Constraint("email %s is already registered", reader.Email)
	case err != nil:
		return nil, fmt.Errorf("insert reader: %w", err)
	}

	event, err := eventstore.NewEvent(EventReaderRegistered, ReaderRegisteredEvent{Name: reader.Name, Email: reader.Email})
	if err != nil {
		return nil, err
	}
	if err := s.eventStore.AppendTx(ctx, tx, reader.ID, AggregateReader, 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("reader registered", zap.String("reader_id", reader.ID.String()))
	return reader, nil
}

// GetReader retrieves a reader by their ID.
func (s *service) GetReader(ctx context.Context, id uuid.UUID) (*Reader, error) {
	query := `
		SELECT id, name, email, phone, registered_at
		FROM readers
		WHERE id = $1
	`
	reader := &Reader{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&reader.ID,
		&reader.Name,
		&reader.Email,
		&reader.Phone,
		&reader.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.NotFound("reader", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get reader: %w", err)
	}
	return reader, nil
}

// RegisterOperator creates a desk account.
func (s *service) RegisterOperator(ctx context.Context, login, password string) (*Operator, error) {
	login = strings.TrimSpace(login)
	if login == "" || len(password) < 8 {
		return nil, domainerr.Constraint("operator login is required and the password needs at least 8 characters")
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	op := &Operator{ID: uuid.New(), Login: login}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO operators (id, login, password_hash, salt)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, op.ID, op.Login, passwordHash, salt).Scan(&op.CreatedAt)
	switch {
	case storage.IsUniqueViolation(err, "operators_login_key"):
		return nil, domainerr.Constraint("operator %s already exists", login)
	case err != nil:
		return nil, fmt.Errorf("insert operator: %w", err)
	}

	s.logger.Info("operator registered", zap.String("login", login))
	return op, nil
}

// Authenticate verifies an operator's credentials and returns the operator if successful.
func (s *service) Authenticate(ctx context.Context, login, password string) (*Operator, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	op, cred, err := s.getOperatorByLogin(ctx, login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, cred.salt, cred.passwordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return op, nil
}

func (s *service) EnsureOperator(ctx context.Context, login, password string) error {
	_, _, err := s.getOperatorByLogin(ctx, login)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("look up operator: %w", err)
	}

	_, err = s.RegisterOperator(ctx, login, password)
	if errors.Is(err, domainerr.ErrConstraintViolation) {
		// Lost a race with another instance seeding the same login.
		if _, _, lookupErr := s.getOperatorByLogin(ctx, login); lookupErr == nil {
			return nil
		}
	}
	return err
}

func (s *service) getOperatorByLogin(ctx context.Context, login string) (*Operator, *credential, error) {
	query := `
		SELECT id, login, created_at, password_hash, salt
		FROM operators
		WHERE login = $1
	`
	op := &Operator{}
	cred := &credential{}
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(login)).Scan(
		&op.ID,
		&op.Login,
		&op.CreatedAt,
		&cred.passwordHash,
		&cred.salt,
	)
	if err != nil {
		return nil, nil, err
	}
	cred.operatorID = op.ID
	return op, cred, nil
}
