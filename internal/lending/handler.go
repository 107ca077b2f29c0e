// internal/lending/handler.go
package lending

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"libralend/internal/catalog"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, validate: v, logger: logger, now: time.Now}
}

// Routes returns the lending API. Authentication and timeouts are applied by
// the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/add-book", h.HandleAddBook)
	r.Post("/borrow-book", h.HandleBorrowBook)
	r.Post("/return-book", h.HandleReturnBook)
	r.Get("/books", h.HandleListBooks)
	r.Get("/lending-history", h.HandleLendingHistory)
	return r
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req addBookPayload
	if err := h.decode(w, r, opAddBook, &req); err != nil {
		h.writeError(w, err)
		return
	}
	nb, err := req.toNewBook()
	if err != nil {
		h.writeError(w, newError(opAddBook, req.Title, KindInvalidInput, err))
		return
	}

	book, err := h.service.AddBook(r.Context(), nb)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleBorrowBook(w http.ResponseWriter, r *http.Request) {
	var req borrowPayload
	if err := h.decode(w, r, opBorrow, &req); err != nil {
		h.writeError(w, err)
		return
	}
	borrow, err := req.toRequest(h.now())
	if err != nil {
		h.writeError(w, newError(opBorrow, req.BookTitle, KindInvalidInput, err))
		return
	}

	rec, err := h.service.BorrowBook(r.Context(), borrow)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) HandleReturnBook(w http.ResponseWriter, r *http.Request) {
	var req returnPayload
	if err := h.decode(w, r, opReturn, &req); err != nil {
		h.writeError(w, err)
		return
	}
	ret, err := req.toRequest()
	if err != nil {
		h.writeError(w, newError(opReturn, req.BookTitle, KindInvalidInput, err))
		return
	}

	rec, err := h.service.ReturnBook(r.Context(), ret)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context(), catalog.Filter{Title: r.URL.Query().Get("title")})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleLendingHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ListLendingHistory(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// decode reads a JSON body into dst, rejecting unknown fields, and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return newError(op, "", KindInvalidInput, fmt.Errorf("decode request body: %w", err))
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return newError(op, "", KindInvalidInput, err)
		}
		var missing, invalid []string
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
			} else {
				invalid = append(invalid, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
		if len(missing) > 0 {
			return missingFieldsError(op, "", missing)
		}
		return newError(op, "", KindInvalidInput, errors.New(strings.Join(invalid, "; ")))
	}
	return nil
}

// ErrorResponse is the body of every failed lending request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   Kind   `json:"kind"`
	Op     string `json:"op,omitempty"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// StatusCode maps an engine error kind to an HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindMissingFields, KindInvalidInput, KindUnavailable:
		return http.StatusBadRequest
	case KindBookNotFound, KindNoOutstandingRecord:
		return http.StatusNotFound
	case KindDuplicateBook:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	le, ok := classify("", "", err).(*Error)
	if !ok {
		le = newError("", "", KindStoreUnavailable, err)
	}
	status := StatusCode(le.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("lending request failed", zap.Error(err))
	}
	resp := ErrorResponse{
		Error: le.Error(),
		Kind:  le.Kind,
		Op:    le.Op,
		Title: le.Title,
	}
	if le.Err != nil {
		resp.Detail = le.Err.Error()
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
