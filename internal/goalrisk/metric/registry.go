// Package metric computes the current value of a goal. Each metric type is a
// read-only query scoped to the goal owner and period, registered by name so
// new metrics plug in without touching the monitor loop.
package metric

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"gorm.io/gorm"
)

const (
	Visits            = "visits"
	SuccessfulVisits  = "successful_visits"
	NewClients        = "new_clients"
	VisitSheets       = "visit_sheets"
	Companies         = "companies"
	ProductsOffered   = "products_offered"
	TPVVolume         = "tpv_volume"
	ConversionRate    = "conversion_rate"
	ClientFacturacion = "client_facturacion"
	FollowUps         = "follow_ups"
)

// Query scopes a computation to one owner and an inclusive date range.
type Query struct {
	OwnerID string
	From    time.Time
	To      time.Time
}

func (q Query) FromDate() string { return q.From.Format("2006-01-02") }
func (q Query) ToDate() string   { return q.To.Format("2006-01-02") }

// Bounds returns the half-open timestamp range covering the period in UTC.
func (q Query) Bounds() (time.Time, time.Time) {
	start := time.Date(q.From.Year(), q.From.Month(), q.From.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(q.To.Year(), q.To.Month(), q.To.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, end
}

type Func func(ctx context.Context, db *gorm.DB, q Query) (float64, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Default returns a registry with every built-in metric registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Visits, countVisits)
	r.Register(SuccessfulVisits, countSuccessfulVisits)
	r.Register(NewClients, countNewClients)
	r.Register(VisitSheets, countVisitSheets)
	r.Register(Companies, countCompanies)
	r.Register(ProductsOffered, sumProductsOffered)
	r.Register(TPVVolume, sumTPVVolume)
	r.Register(ConversionRate, conversionRate)
	r.Register(ClientFacturacion, sumClientFacturacion)
	r.Register(FollowUps, countFollowUps)
	return r
}

func (r *Registry) Register(metricType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[metricType] = fn
}

func (r *Registry) Lookup(metricType string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[metricType]
	return fn, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compute runs the registered metric. Unknown types and query failures wrap
// domain.ErrMetricComputation.
func (r *Registry) Compute(ctx context.Context, db *gorm.DB, metricType string, q Query) (float64, error) {
	fn, ok := r.Lookup(metricType)
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", domain.ErrMetricComputation, domain.ErrUnknownMetric, metricType)
	}
	value, err := fn(ctx, db, q)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrMetricComputation, metricType, err)
	}
	return value, nil
}
