// internal/lending/implementation.go
package lending

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
)

const (
	opAddBook     = "add book"
	opBorrow      = "borrow"
	opReturn      = "return"
	opListBooks   = "list books"
	opListHistory = "list lending history"
)

// Engine keeps catalog quantities and the lending ledger consistent. It owns
// no state besides the per-title locks.
type Engine struct {
	catalog catalog.Store
	ledger  ledger.Store
	tx      Transactor
	policy  ReturnPolicy
	locks   *titleLocks
	logger  *zap.Logger
	tracer  trace.Tracer

	operations    metric.Int64Counter
	compensations metric.Int64Counter
}

var _ Service = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithTransactor makes borrow and return run inside one store transaction
// instead of relying on compensation.
func WithTransactor(t Transactor) Option {
	return func(e *Engine) { e.tx = t }
}

func WithReturnPolicy(p ReturnPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a lending engine over the given stores.
func NewEngine(books catalog.Store, records ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog: books,
		ledger:  records,
		policy:  ReturnLenient,
		locks:   newTitleLocks(),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("libralend/lending"),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter("libralend/lending")
	var err error
	if e.operations, err = meter.Int64Counter("lending.operations",
		metric.WithDescription("Lending engine operations by outcome")); err != nil {
		otel.Handle(err)
	}
	if e.compensations, err = meter.Int64Counter("lending.compensations",
		metric.WithDescription("Quantity adjustments undone after a failed ledger write")); err != nil {
		otel.Handle(err)
	}
	return e
}

// AddBook registers a new title.
func (e *Engine) AddBook(ctx context.Context, nb catalog.NewBook) (_ *catalog.Book, err error) {
	ctx, span := e.start(ctx, opAddBook, nb.Title)
	defer func() { e.finish(ctx, span, opAddBook, err) }()

	book, err := e.catalog.AddBook(ctx, nb)
	if err != nil {
		var missing *catalog.MissingFieldsError
		switch {
		case errors.As(err, &missing):
			return nil, missingFieldsError(opAddBook, nb.Title, missing.Fields)
		case errors.Is(err, catalog.ErrDuplicateTitle), errors.Is(err, catalog.ErrDuplicateISBN):
			return nil, newError(opAddBook, nb.Title, KindDuplicateBook, err)
		case errors.Is(err, catalog.ErrInvalidInput):
			return nil, newError(opAddBook, nb.Title, KindInvalidInput, err)
		default:
			return nil, newError(opAddBook, nb.Title, KindStoreUnavailable, err)
		}
	}

	e.logger.Info("book added",
		zap.String("title", book.Title),
		zap.String("isbn", book.ISBN),
		zap.Int("quantity", book.Quantity))
	return book, nil
}

// BorrowBook takes one copy of a title out of the pool and records who has it.
func (e *Engine) BorrowBook(ctx context.Context, req BorrowRequest) (_ *ledger.Record, err error) {
	ctx, span := e.start(ctx, opBorrow, req.BookTitle)
	defer func() { e.finish(ctx, span, opBorrow, err) }()

	if fields := req.missing(); len(fields) > 0 {
		return nil, missingFieldsError(opBorrow, req.BookTitle, fields)
	}

	release, err := e.locks.acquire(ctx, req.BookTitle)
	if err != nil {
		return nil, newError(opBorrow, req.BookTitle, KindStoreUnavailable, err)
	}
	defer release()

	if e.tx == nil {
		return e.borrow(ctx, e.catalog, e.ledger, req, true)
	}

	var rec *ledger.Record
	err = e.tx.InTx(ctx, func(ctx context.Context, books catalog.Store, records ledger.Store) error {
		var err error
		rec, err = e.borrow(ctx, books, records, req, false)
		return err
	})
	if err != nil {
		return nil, classify(opBorrow, req.BookTitle, err)
	}
	return rec, nil
}

func (e *Engine) borrow(ctx context.Context, books catalog.Store, records ledger.Store, req BorrowRequest, compensate bool) (*ledger.Record, error) {
	title := req.BookTitle

	book, err := books.FindBook(ctx, title)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, newError(opBorrow, title, KindBookNotFound, err)
		}
		return nil, newError(opBorrow, title, KindStoreUnavailable, err)
	}

	if book.Status != catalog.StatusAvailable || book.Quantity <= 0 {
		if !book.Consistent() {
			e.logger.Error("catalog status disagrees with quantity",
				zap.String("title", title),
				zap.String("status", string(book.Status)),
				zap.Int("quantity", book.Quantity))
		}
		return nil, newError(opBorrow, title, KindUnavailable, errors.New("no copies available for borrowing"))
	}

	if _, err := books.AdjustQuantity(ctx, title, -1); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNegativeResult):
			return nil, newError(opBorrow, title, KindUnavailable, err)
		case errors.Is(err, catalog.ErrNotFound):
			return nil, newError(opBorrow, title, KindBookNotFound, err)
		default:
			return nil, newError(opBorrow, title, KindStoreUnavailable, err)
		}
	}

	rec, err := records.OpenRecord(ctx, ledger.NewRecord{
		BorrowerName:    req.BorrowerName,
		BorrowerContact: req.BorrowerContact,
		BookTitle:       title,
		YearLevel:       req.YearLevel,
		ProgramCourse:   req.ProgramCourse,
		DateBorrowed:    req.DateBorrowed,
	})
	if err != nil {
		if compensate {
			e.compensate(ctx, books, opBorrow, title, +1)
		}
		return nil, newError(opBorrow, title, KindStoreUnavailable, fmt.Errorf("open lending record: %w", err))
	}

	e.logger.Info("book borrowed",
		zap.String("title", title),
		zap.String("borrower", req.BorrowerName),
		zap.String("record_id", rec.ID.String()))
	return rec, nil
}

// ReturnBook puts one copy back into the pool and closes the oldest
// outstanding record for the title.
func (e *Engine) ReturnBook(ctx context.Context, req ReturnRequest) (_ *ledger.Record, err error) {
	ctx, span := e.start(ctx, opReturn, req.BookTitle)
	defer func() { e.finish(ctx, span, opReturn, err) }()

	if fields := req.missing(); len(fields) > 0 {
		return nil, missingFieldsError(opReturn, req.BookTitle, fields)
	}

	release, err := e.locks.acquire(ctx, req.BookTitle)
	if err != nil {
		return nil, newError(opReturn, req.BookTitle, KindStoreUnavailable, err)
	}
	defer release()

	if e.tx == nil {
		return e.giveBack(ctx, e.catalog, e.ledger, req, true)
	}

	var (
		rec        *ledger.Record
		overReturn error
	)
	err = e.tx.InTx(ctx, func(ctx context.Context, books catalog.Store, records ledger.Store) error {
		var err error
		rec, err = e.giveBack(ctx, books, records, req, false)
		if e.policy == ReturnLenient && errors.Is(err, ErrNoOutstandingRecord) {
			// commit the increment, report the failure afterwards
			overReturn = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, classify(opReturn, req.BookTitle, err)
	}
	if overReturn != nil {
		return nil, overReturn
	}
	return rec, nil
}

func (e *Engine) giveBack(ctx context.Context, books catalog.Store, records ledger.Store, req ReturnRequest, compensate bool) (*ledger.Record, error) {
	title := req.BookTitle

	if _, err := books.FindBook(ctx, title); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, newError(opReturn, title, KindBookNotFound, err)
		}
		return nil, newError(opReturn, title, KindStoreUnavailable, err)
	}

	if _, err := books.AdjustQuantity(ctx, title, +1); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			return nil, newError(opReturn, title, KindBookNotFound, err)
		case errors.Is(err, catalog.ErrQuantityLimit):
			return nil, newError(opReturn, title, KindInvalidInput, err)
		}
		return nil, newError(opReturn, title, KindStoreUnavailable, err)
	}

	rec, err := records.CloseRecord(ctx, title, req.DateReturned)
	if err != nil {
		if errors.Is(err, ledger.ErrNoOutstandingRecord) {
			if e.policy == ReturnLenient {
				e.logger.Warn("return without outstanding record, quantity kept",
					zap.String("title", title))
			} else if compensate {
				e.compensate(ctx, books, opReturn, title, -1)
			}
			return nil, newError(opReturn, title, KindNoOutstandingRecord, err)
		}
		if compensate {
			e.compensate(ctx, books, opReturn, title, -1)
		}
		return nil, newError(opReturn, title, KindStoreUnavailable, fmt.Errorf("close lending record: %w", err))
	}

	e.logger.Info("book returned",
		zap.String("title", title),
		zap.String("borrower", rec.BorrowerName),
		zap.String("record_id", rec.ID.String()))
	return rec, nil
}

// compensate undoes a quantity adjustment. It runs even when the caller's
// context is already cancelled.
func (e *Engine) compensate(ctx context.Context, books catalog.Store, op, title string, delta int) {
	ctx = context.WithoutCancel(ctx)
	e.logger.Warn("compensating quantity adjustment",
		zap.String("op", op),
		zap.String("title", title),
		zap.Int("delta", delta))

	if _, err := books.AdjustQuantity(ctx, title, delta); err != nil {
		e.logger.Error("failed to compensate quantity adjustment",
			zap.String("op", op),
			zap.String("title", title),
			zap.Error(err))
		return
	}
	if e.compensations != nil {
		e.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// ListBooks returns the catalog, optionally narrowed to one title.
func (e *Engine) ListBooks(ctx context.Context, filter catalog.Filter) (_ []catalog.Book, err error) {
	ctx, span := e.start(ctx, opListBooks, filter.Title)
	defer func() { e.finish(ctx, span, opListBooks, err) }()

	books, err := e.catalog.ListBooks(ctx, filter)
	if err != nil {
		return nil, newError(opListBooks, filter.Title, KindStoreUnavailable, err)
	}
	return books, nil
}

// ListLendingHistory returns every lending record, closed or not.
func (e *Engine) ListLendingHistory(ctx context.Context) (_ []ledger.HistoryEntry, err error) {
	ctx, span := e.start(ctx, opListHistory, "")
	defer func() { e.finish(ctx, span, opListHistory, err) }()

	history, err := e.ledger.ListHistory(ctx)
	if err != nil {
		return nil, newError(opListHistory, "", KindStoreUnavailable, err)
	}
	return history, nil
}

func (e *Engine) start(ctx context.Context, op, title string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "lending."+op,
		trace.WithAttributes(
			attribute.String("lending.op", op),
			attribute.String("book.title", title),
		),
	)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("lending.outcome", outcome))
	span.End()

	if e.operations != nil {
		e.operations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
}
