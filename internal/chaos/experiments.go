// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"libralend/internal/catalog"
	"libralend/internal/ledger"
	"libralend/internal/lending"
)

// ExperimentConfig sizes the lending experiments.
type ExperimentConfig struct {
	Copies      int
	Concurrency int
	Returns     int
	Duration    time.Duration
}

func (c ExperimentConfig) withDefaults() ExperimentConfig {
	if c.Copies <= 0 {
		c.Copies = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 100
	}
	if c.Returns <= 0 {
		c.Returns = 10
	}
	if c.Duration <= 0 {
		c.Duration = 5 * time.Second
	}
	return c
}

// RegisterLendingExperiments registers every lending experiment against target.
func (e *Engine) RegisterLendingExperiments(target lending.Service, cfg ExperimentConfig) {
	e.RegisterExperiment(ConcurrentBorrowRace(target, cfg))
	e.RegisterExperiment(ReturnWithoutBorrow(target, cfg))
}

// ConcurrentBorrowRace fires many simultaneous borrows at a title with a few
// copies and expects exactly that many to succeed.
func ConcurrentBorrowRace(target lending.Service, cfg ExperimentConfig) Experiment {
	cfg = cfg.withDefaults()
	title := gamedayTitle("borrow-race")
	var lent atomic.Int64

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Concurrent borrows never lend more copies than the title holds",
		SteadyState: []Metric{
			inconsistentTitles(target),
			copiesDrift(target, title, cfg.Copies),
			{
				Name: "lent_minus_stock",
				Query: func(context.Context) (float64, error) {
					if lent.Load() == 0 {
						return 0, nil
					}
					return float64(lent.Load() - int64(cfg.Copies)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 0},
			},
		},
		Method: []Action{
			addTitle(target, title, cfg.Copies),
			{
				Type:   "concurrent-requests",
				Target: "lending-engine",
				Parameters: map[string]any{
					"concurrency": cfg.Concurrency,
					"title":       title,
				},
				Execute: func(ctx context.Context) error {
					var (
						wg         sync.WaitGroup
						mu         sync.Mutex
						unexpected []error
					)
					for i := 0; i < cfg.Concurrency; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							_, err := target.BorrowBook(ctx, lending.BorrowRequest{
								BorrowerName: fmt.Sprintf("gameday-reader-%d", i),
								BookTitle:    title,
								DateBorrowed: today(),
							})
							switch {
							case err == nil:
								lent.Add(1)
							case errors.Is(err, lending.ErrUnavailable):
							default:
								mu.Lock()
								unexpected = append(unexpected, err)
								mu.Unlock()
							}
						}(i)
					}
					wg.Wait()
					return errors.Join(unexpected...)
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return-copies",
				Target: "lending-engine",
				Execute: func(ctx context.Context) error {
					var errs []error
					for i := int64(0); i < lent.Load(); i++ {
						if _, err := target.ReturnBook(ctx, lending.ReturnRequest{BookTitle: title, DateReturned: today()}); err != nil {
							errs = append(errs, err)
						}
					}
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "lent_minus_stock",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Exactly as many borrows as copies should succeed",
			},
			{
				Metric:    "copies_drift",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Copies on the shelf plus copies lent should equal the stock",
			},
			{
				Metric:    "inconsistent_titles",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every title's status should follow its quantity",
			},
		},
		Duration: cfg.Duration,
	}
}

// ReturnWithoutBorrow returns copies that were never lent. Every attempt
// must fail with NoOutstandingRecord. Depending on the server's return policy
// the shelf count either keeps every increment or none of them; anything in
// between means an increment was lost or applied twice.
func ReturnWithoutBorrow(target lending.Service, cfg ExperimentConfig) Experiment {
	cfg = cfg.withDefaults()
	title := gamedayTitle("phantom-return")
	var unexpected atomic.Int64

	phantom := copiesDrift(target, title, cfg.Copies)
	phantom.Name = "phantom_copies"
	phantom.Threshold = Threshold{Operator: ">=", Value: 0}

	return Experiment{
		Name:       "return-without-borrow",
		Hypothesis: "Returns with no outstanding record are refused and move the shelf count all-or-nothing",
		SteadyState: []Metric{
			inconsistentTitles(target),
			phantom,
			{
				Name: "unexpected_returns",
				Query: func(context.Context) (float64, error) {
					return float64(unexpected.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			addTitle(target, title, cfg.Copies),
			{
				Type:   "phantom-returns",
				Target: "lending-engine",
				Parameters: map[string]any{
					"returns": cfg.Returns,
					"title":   title,
				},
				Execute: func(ctx context.Context) error {
					for i := 0; i < cfg.Returns; i++ {
						_, err := target.ReturnBook(ctx, lending.ReturnRequest{BookTitle: title, DateReturned: today()})
						if !errors.Is(err, lending.ErrNoOutstandingRecord) {
							unexpected.Add(1)
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "unexpected_returns",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every phantom return should fail with NoOutstandingRecord",
			},
			{
				Metric:    "phantom_copies",
				Condition: func(v float64) bool { return v == 0 || v == float64(cfg.Returns) },
				Message:   "Phantom returns should add every copy or none",
			},
			{
				Metric:    "inconsistent_titles",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every title's status should follow its quantity",
			},
		},
		Duration: cfg.Duration,
	}
}

func addTitle(target lending.Service, title string, copies int) Action {
	return Action{
		Type:   "add-title",
		Target: "catalog",
		Parameters: map[string]any{
			"title":  title,
			"copies": copies,
		},
		Execute: func(ctx context.Context) error {
			_, err := target.AddBook(ctx, catalog.NewBook{
				Title:         title,
				Author:        "Game Day",
				ISBN:          title,
				PublishedDate: today(),
				Genre:         "Test",
				Language:      "English",
				ShelfLocation: "GD-00",
				Status:        catalog.StatusFor(copies),
				Quantity:      copies,
			})
			return err
		},
	}
}

// inconsistentTitles counts titles whose status disagrees with their quantity.
func inconsistentTitles(target lending.Service) Metric {
	return Metric{
		Name: "inconsistent_titles",
		Query: func(ctx context.Context) (float64, error) {
			books, err := target.ListBooks(ctx, catalog.Filter{})
			if err != nil {
				return 0, err
			}
			n := 0
			for i := range books {
				if !books[i].Consistent() {
					n++
				}
			}
			return float64(n), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// copiesDrift measures quantity + outstanding - stock for title. It reads 0
// until the title exists.
func copiesDrift(target lending.Service, title string, stock int) Metric {
	return Metric{
		Name: "copies_drift",
		Query: func(ctx context.Context) (float64, error) {
			books, err := target.ListBooks(ctx, catalog.Filter{Title: title})
			if err != nil {
				return 0, err
			}
			if len(books) == 0 {
				return 0, nil
			}
			history, err := target.ListLendingHistory(ctx)
			if err != nil {
				return 0, err
			}
			outstanding := 0
			for _, h := range history {
				if h.BookTitle == title && h.Status == ledger.StatusOutstanding {
					outstanding++
				}
			}
			return float64(books[0].Quantity + outstanding - stock), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func gamedayTitle(kind string) string {
	return fmt.Sprintf("gameday-%s-%s", kind, uuid.NewString()[:8])
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}
