package catalog

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"libracirc/internal/domainerr"
	"libracirc/internal/inventory"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) AddBook(ctx context.Context, book NewBook) (*Book, error) {
	args := m.Called(ctx, book)
	b, _ := args.Get(0).(*Book)
	return b, args.Error(1)
}

func (m *mockService) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*Book)
	return b, args.Error(1)
}

func (m *mockService) AddInstance(ctx context.Context, bookID uuid.UUID, inventoryCode string) (*inventory.Instance, error) {
	args := m.Called(ctx, bookID, inventoryCode)
	i, _ := args.Get(0).(*inventory.Instance)
	return i, args.Error(1)
}

func (m *mockService) GetInstance(ctx context.Context, id uuid.UUID) (*inventory.Instance, error) {
	args := m.Called(ctx, id)
	i, _ := args.Get(0).(*inventory.Instance)
	return i, args.Error(1)
}

func (m *mockService) SearchCatalog(ctx context.Context, text string) ([]SearchResult, error) {
	args := m.Called(ctx, text)
	r, _ := args.Get(0).([]SearchResult)
	return r, args.Error(1)
}

func newTestRouter(svc Service) http.Handler {
	h := NewHandler(svc, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/catalog/search", h.HandleSearch)
	r.Post("/books", h.HandleAddBook)
	r.Get("/books/{id}", h.HandleGetBook)
	r.Post("/books/{id}/instances", h.HandleAddInstance)
	r.Get("/instances/{id}", h.HandleGetInstance)
	return r
}

func TestHandleSearch(t *testing.T) {
	svc := new(mockService)
	svc.On("SearchCatalog", mock.Anything, "кобзар").Return([]SearchResult{{
		BookID:  uuid.New(),
		Title:   "Кобзар",
		Authors: pq.StringArray{"Тарас Шевченко"},
	}}, nil)
	router := newTestRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/search?q=%D0%BA%D0%BE%D0%B1%D0%B7%D0%B0%D1%80", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Тарас Шевченко")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/search", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.AssertExpectations(t)
}

func TestHandleAddInstanceDuplicateCode(t *testing.T) {
	bookID := uuid.New()

	svc := new(mockService)
	svc.On("AddInstance", mock.Anything, bookID, "INV-001").
		Return(nil, domainerr.Constraint("inventory code INV-001 is already in use"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/books/"+bookID.String()+"/instances",
		bytes.NewBufferString(`{"inventory_code":"INV-001"}`))
	newTestRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandleGetBookNotFound(t *testing.T) {
	id := uuid.New()

	svc := new(mockService)
	svc.On("GetBook", mock.Anything, id).Return(nil, domainerr.NotFound("book", id.String()))

	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/books/"+id.String(), nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleAddBook(t *testing.T) {
	svc := new(mockService)
	svc.On("AddBook", mock.Anything, NewBook{Title: "Кобзар", Authors: []string{"Тарас Шевченко"}}).
		Return(&Book{ID: uuid.New(), Title: "Кобзар", Authors: pq.StringArray{"Тарас Шевченко"}}, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/books",
		bytes.NewBufferString(`{"title":"Кобзар","authors":["Тарас Шевченко"]}`))
	newTestRouter(svc).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	svc.AssertExpectations(t)
}
