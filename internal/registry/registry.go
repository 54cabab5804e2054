// Package registry keeps the authoritative in-memory collection of project records
// for a planning cycle, together with the macro-project classifications they belong to.
package registry

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
	"capexline/internal/domain"
	"capexline/internal/money"
)

// MacroTotal aggregates the records of one macro-project key.
type MacroTotal struct {
	MacroKey string          `json:"macro_key"`
	Count    int             `json:"count"`
	Local    decimal.Decimal `json:"local_total"`
}

// Patch carries the fields to change on a record. Nil fields are left untouched.
type Patch struct {
	Name           *string
	MacroKey       *string
	Type           *domain.ProjectType
	LocalAmount    *decimal.Decimal
	Director       *string
	Manager        *string
	Metric         *string
	TargetQuantity *int64
	Justification  *string
	Investment     *decimal.Decimal
	NPV            *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// TouchesModel reports whether the validation inputs change.
func (p Patch) TouchesModel() bool {
	return p.Investment != nil || p.NPV != nil
}

type Registry struct {
	mu sync.RWMutex

	rate    decimal.Decimal
	order   []string
	records map[string]domain.ProjectRecord

	macroOrder []string
	classes    map[string]domain.MacroClassification

	totals      []MacroTotal
	totalsValid bool
}

// New returns an empty registry converting with the given exchange rate.
func New(rate decimal.Decimal) (*Registry, error) {
	if !rate.IsPositive() {
		return nil, apperr.Invalid("exchange rate must be > 0")
	}
	return &Registry{
		rate:    rate,
		records: make(map[string]domain.ProjectRecord),
		classes: make(map[string]domain.MacroClassification),
	}, nil
}

func (r *Registry) ExchangeRate() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rate
}

// Add appends a new record. The reference amount is derived from the local amount.
func (r *Registry) Add(rec domain.ProjectRecord) (domain.ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := validateRecord(rec); err != nil {
		return domain.ProjectRecord{}, err
	}
	if _, ok := r.records[rec.Code]; ok {
		return domain.ProjectRecord{}, apperr.Duplicate("project", rec.Code)
	}
	if err := r.derive(&rec); err != nil {
		return domain.ProjectRecord{}, err
	}
	r.records[rec.Code] = rec
	r.order = append(r.order, rec.Code)
	r.observe(rec.MacroKey)
	r.totalsValid = false
	return rec, nil
}

// Update merges the patch into the record. Nothing changes when the patch is invalid.
func (r *Registry) Update(code string, p Patch) (domain.ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[code]
	if !ok {
		return domain.ProjectRecord{}, apperr.NotFound("project", code)
	}
	applyPatch(&rec, p)
	if err := validateRecord(rec); err != nil {
		return domain.ProjectRecord{}, err
	}
	if p.LocalAmount != nil {
		if err := r.derive(&rec); err != nil {
			return domain.ProjectRecord{}, err
		}
	}
	r.records[code] = rec
	r.observe(rec.MacroKey)
	r.totalsValid = false
	return rec, nil
}

// Put replaces a record that already exists, or appends it. Used when loading
// persisted state and when the engine moves a record between stages.
func (r *Registry) Put(rec domain.ProjectRecord) (domain.ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := validateRecord(rec); err != nil {
		return domain.ProjectRecord{}, err
	}
	if err := r.derive(&rec); err != nil {
		return domain.ProjectRecord{}, err
	}
	if _, ok := r.records[rec.Code]; !ok {
		r.order = append(r.order, rec.Code)
	}
	r.records[rec.Code] = rec
	r.observe(rec.MacroKey)
	r.totalsValid = false
	return rec, nil
}

// Remove deletes the record. There is no undo.
func (r *Registry) Remove(code string) (domain.ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[code]
	if !ok {
		return domain.ProjectRecord{}, apperr.NotFound("project", code)
	}
	delete(r.records, code)
	for i, c := range r.order {
		if c == code {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.totalsValid = false
	return rec, nil
}

func (r *Registry) Get(code string) (domain.ProjectRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[code]
	return rec, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns the records in insertion order.
func (r *Registry) List() []domain.ProjectRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProjectRecord, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.records[code])
	}
	return out
}

// TotalsByMacroProject returns count and local sum per macro key, in the order keys were first seen.
// Keys without records are omitted.
func (r *Registry) TotalsByMacroProject() []MacroTotal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.totalsValid {
		r.totals = r.computeTotals()
		r.totalsValid = true
	}
	out := make([]MacroTotal, len(r.totals))
	copy(out, r.totals)
	return out
}

func (r *Registry) computeTotals() []MacroTotal {
	byKey := make(map[string]*MacroTotal)
	for _, code := range r.order {
		rec := r.records[code]
		t, ok := byKey[rec.MacroKey]
		if !ok {
			t = &MacroTotal{MacroKey: rec.MacroKey, Local: decimal.Zero}
			byKey[rec.MacroKey] = t
		}
		t.Count++
		t.Local = t.Local.Add(rec.LocalAmount)
	}
	totals := make([]MacroTotal, 0, len(byKey))
	for _, key := range r.macroOrder {
		if t, ok := byKey[key]; ok {
			totals = append(totals, *t)
		}
	}
	return totals
}

// SetExchangeRate changes the rate and re-derives every reference amount from its local amount.
func (r *Registry) SetExchangeRate(rate decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !rate.IsPositive() {
		return apperr.Invalid("exchange rate must be > 0")
	}
	r.rate = rate
	for code, rec := range r.records {
		if err := r.derive(&rec); err != nil {
			return err
		}
		r.records[code] = rec
	}
	return nil
}

// Classification returns the classification of a macro-project key.
func (r *Registry) Classification(macroKey string) (domain.MacroClassification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[macroKey]
	return c, ok
}

// Classifications lists every observed macro key in first-seen order.
func (r *Registry) Classifications() []domain.MacroClassification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.MacroClassification, 0, len(r.macroOrder))
	for _, key := range r.macroOrder {
		out = append(out, r.classes[key])
	}
	return out
}

// Classify sets the category and owner of an observed macro key.
func (r *Registry) Classify(macroKey string, category domain.Category, owner string) (domain.MacroClassification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[macroKey]
	if !ok {
		return domain.MacroClassification{}, apperr.NotFound("macro-project", macroKey)
	}
	if !category.Valid() {
		return domain.MacroClassification{}, apperr.Invalid("unknown category %q", category)
	}
	c.Category = category
	c.Owner = strings.TrimSpace(owner)
	r.classes[macroKey] = c
	return c, nil
}

// PutClassification restores a persisted classification.
func (r *Registry) PutClassification(c domain.MacroClassification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe(c.MacroKey)
	r.classes[c.MacroKey] = c
}

// Snapshot captures the full registry state.
type Snapshot struct {
	rate       decimal.Decimal
	order      []string
	records    map[string]domain.ProjectRecord
	macroOrder []string
	classes    map[string]domain.MacroClassification
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		rate:       r.rate,
		order:      append([]string(nil), r.order...),
		records:    make(map[string]domain.ProjectRecord, len(r.records)),
		macroOrder: append([]string(nil), r.macroOrder...),
		classes:    make(map[string]domain.MacroClassification, len(r.classes)),
	}
	for k, v := range r.records {
		s.records[k] = v
	}
	for k, v := range r.classes {
		s.classes[k] = v
	}
	return s
}

// Restore rolls the registry back to a snapshot.
func (r *Registry) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = s.rate
	r.order = s.order
	r.records = s.records
	r.macroOrder = s.macroOrder
	r.classes = s.classes
	r.totalsValid = false
}

func (r *Registry) observe(macroKey string) {
	if _, ok := r.classes[macroKey]; ok {
		return
	}
	r.classes[macroKey] = domain.MacroClassification{MacroKey: macroKey}
	r.macroOrder = append(r.macroOrder, macroKey)
}

func (r *Registry) derive(rec *domain.ProjectRecord) error {
	ref, err := money.ToReference(rec.LocalAmount, r.rate)
	if err != nil {
		return err
	}
	rec.ReferenceAmount = ref
	return nil
}

func applyPatch(rec *domain.ProjectRecord, p Patch) {
	if p.Name != nil {
		rec.Name = strings.TrimSpace(*p.Name)
	}
	if p.MacroKey != nil {
		rec.MacroKey = strings.TrimSpace(*p.MacroKey)
	}
	if p.Type != nil {
		rec.Type = *p.Type
	}
	if p.LocalAmount != nil {
		rec.LocalAmount = *p.LocalAmount
	}
	if p.Director != nil {
		rec.Director = strings.TrimSpace(*p.Director)
	}
	if p.Manager != nil {
		rec.Manager = strings.TrimSpace(*p.Manager)
	}
	if p.Metric != nil {
		rec.Metric = *p.Metric
	}
	if p.TargetQuantity != nil {
		rec.TargetQuantity = *p.TargetQuantity
	}
	if p.Justification != nil {
		rec.Justification = *p.Justification
	}
	if p.Investment != nil {
		rec.Investment = *p.Investment
	}
	if p.NPV != nil {
		rec.NPV = *p.NPV
	}
}

func validateRecord(rec domain.ProjectRecord) error {
	if strings.TrimSpace(rec.Code) == "" {
		return apperr.Invalid("project code is required")
	}
	if strings.TrimSpace(rec.MacroKey) == "" {
		return apperr.Invalid("macro-project key is required")
	}
	if rec.Type != "" && !rec.Type.Valid() {
		return apperr.Invalid("unknown project type %q", rec.Type)
	}
	if rec.LocalAmount.IsNegative() {
		return apperr.Invalid("local amount must not be negative")
	}
	if rec.Investment.IsNegative() {
		return apperr.Invalid("investment must not be negative")
	}
	if rec.TargetQuantity < 0 {
		return apperr.Invalid("target quantity must not be negative")
	}
	return nil
}
