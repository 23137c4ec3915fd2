// Package clients talks to the desk API over HTTP.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/catalog"
	"libracirc/internal/inventory"
	"libracirc/internal/membership"
)

// APIError is a non-2xx answer from the desk API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("desk api: %d %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// LoanReceipt is a loan as rendered by the API.
type LoanReceipt struct {
	ID         uuid.UUID `json:"id"`
	InstanceID uuid.UUID `json:"instance_id"`
	ReaderID   uuid.UUID `json:"reader_id"`
	LoanDate   string    `json:"loan_date"`
	DueDate    string    `json:"due_date"`
	ReturnDate string    `json:"return_date,omitempty"`
}

// ReturnReceipt is the outcome of a return.
type ReturnReceipt struct {
	Loan        LoanReceipt `json:"loan"`
	FineCreated bool        `json:"fine_created"`
	FineAmount  *float64    `json:"fine_amount,omitempty"`
	DaysOverdue int         `json:"days_overdue,omitempty"`
}

// DeskClient keeps the operator session cookie between calls.
type DeskClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDeskClient(baseURL string) (*DeskClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &DeskClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *DeskClient) Login(ctx context.Context, login, password string) error {
	req := map[string]string{"login": login, "password": password}
	return c.do(ctx, http.MethodPost, "/api/operators/login", req, nil)
}

func (c *DeskClient) AddBook(ctx context.Context, book catalog.NewBook) (*catalog.Book, error) {
	var out catalog.Book
	if err := c.do(ctx, http.MethodPost, "/api/books", book, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DeskClient) AddInstance(ctx context.Context, bookID uuid.UUID, inventoryCode string) (*inventory.Instance, error) {
	var out inventory.Instance
	req := map[string]string{"inventory_code": inventoryCode}
	if err := c.do(ctx, http.MethodPost, "/api/books/"+bookID.String()+"/instances", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DeskClient) GetInstance(ctx context.Context, id uuid.UUID) (*inventory.Instance, error) {
	var out inventory.Instance
	if err := c.do(ctx, http.MethodGet, "/api/instances/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DeskClient) RegisterReader(ctx context.Context, name, email string) (*membership.Reader, error) {
	var out membership.Reader
	req := map[string]string{"name": name, "email": email}
	if err := c.do(ctx, http.MethodPost, "/api/readers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueBook lends an instance. durationDays of 0 uses the server default.
func (c *DeskClient) IssueBook(ctx context.Context, instanceID, readerID uuid.UUID, durationDays int) (*LoanReceipt, error) {
	req := struct {
		InstanceID   uuid.UUID `json:"instance_id"`
		ReaderID     uuid.UUID `json:"reader_id"`
		DurationDays int       `json:"duration_days,omitempty"`
	}{instanceID, readerID, durationDays}

	var out LoanReceipt
	if err := c.do(ctx, http.MethodPost, "/api/loans", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReturnBook closes a loan. A zero returnDate lets the server use today.
func (c *DeskClient) ReturnBook(ctx context.Context, loanID uuid.UUID, returnDate time.Time) (*ReturnReceipt, error) {
	req := map[string]string{}
	if !returnDate.IsZero() {
		req["return_date"] = returnDate.Format(time.DateOnly)
	}

	var out ReturnReceipt
	if err := c.do(ctx, http.MethodPost, "/api/loans/"+loanID.String()+"/return", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DeskClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
