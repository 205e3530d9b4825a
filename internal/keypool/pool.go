package keypool

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// ErrDuplicateKey is returned when a key value already present in the pool
// is added again.
var ErrDuplicateKey = errors.New("key already in pool")

// Pool is the ordered collection of key records. Order is stable insertion
// order and survives weight and status changes, which keeps the selector's
// cumulative table deterministic for a given pool state. The pool performs
// no locking; the owning service serializes access.
type Pool struct {
	records []*KeyRecord
	index   map[string]*KeyRecord
}

func NewPool() *Pool {
	return &Pool{
		index: make(map[string]*KeyRecord),
	}
}

// Add appends a record to the pool. The key value must be unique.
func (p *Pool) Add(record *KeyRecord) error {
	if record.Value == "" {
		return fmt.Errorf("key value cannot be empty")
	}

	if _, exists := p.index[record.Value]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, Redact(record.Value))
	}

	p.records = append(p.records, record)
	p.index[record.Value] = record

	return nil
}

// Get returns the record for a key value, or nil when the pool does not
// hold it.
func (p *Pool) Get(value string) *KeyRecord {
	return p.index[value]
}

// Remove deletes a record by value and reports whether it was present.
func (p *Pool) Remove(value string) bool {
	record, exists := p.index[value]
	if !exists {
		return false
	}

	delete(p.index, value)
	p.records = lo.Without(p.records, record)

	return true
}

// Records returns the backing slice in stable order. Callers must not
// mutate membership through it.
func (p *Pool) Records() []*KeyRecord {
	return p.records
}

// Selectable returns the records currently eligible for selection, in pool
// order.
func (p *Pool) Selectable() []*KeyRecord {
	return lo.Filter(p.records, func(r *KeyRecord, _ int) bool {
		return r.Selectable()
	})
}

func (p *Pool) Len() int {
	return len(p.records)
}
