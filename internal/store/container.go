// Package store holds the dashboard's view state: one container per entity
// with its collection, active filter, pagination cursor and observers.
// Containers never perform I/O; callers pair a mutation with an API call
// and reconcile or roll back afterwards.
package store

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/jonboulle/clockwork"

	"sar/internal/apperr"
)

const DefaultPageSize = 10

// Matcher is implemented by filter types.
type Matcher[T any] interface {
	Match(T) bool
}

// Accessors tells a container how to read and assign record ids.
type Accessors[T any] struct {
	ID    func(T) int64
	SetID func(*T, int64)
}

type stamper interface {
	StampCreated(user string, at time.Time)
	StampChanged(user string, at time.Time)
}

type Container[T any, F Matcher[T]] struct {
	acc   Accessors[T]
	clock clockwork.Clock

	mu          sync.RWMutex
	items       []T
	filter      F
	filtered    []T
	currentPage int
	pageSize    int
	loaded      bool

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

type Option func(*options)

type options struct {
	clock    clockwork.Clock
	pageSize int
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

func NewContainer[T any, F Matcher[T]](acc Accessors[T], opts ...Option) *Container[T, F] {
	o := options{clock: clockwork.NewRealClock(), pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	return &Container[T, F]{
		acc:         acc,
		clock:       o.clock,
		currentPage: 1,
		pageSize:    o.pageSize,
		observers:   make(map[int]func()),
	}
}

// Subscribe registers fn to run after every mutation. The returned function
// removes it.
func (c *Container[T, F]) Subscribe(fn func()) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Container[T, F]) notify() {
	c.obsMu.Lock()
	fns := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetCollection replaces the whole collection.
func (c *Container[T, F]) SetCollection(items []T) {
	c.mu.Lock()
	c.items = append([]T(nil), items...)
	c.loaded = true
	c.refilterLocked()
	c.mu.Unlock()
	c.notify()
}

// Loaded reports whether SetCollection has been called.
func (c *Container[T, F]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// SetFilter merges the non-empty fields of partial into the active filter
// and returns to the first page.
func (c *Container[T, F]) SetFilter(partial F) error {
	c.mu.Lock()
	next := c.filter
	if err := mergo.Merge(&next, partial, mergo.WithOverride); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store.SetFilter merge: %w", err)
	}
	c.filter = next
	c.currentPage = 1
	c.refilterLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// ReplaceFilter sets the filter as given, clearing fields left empty.
func (c *Container[T, F]) ReplaceFilter(f F) {
	c.mu.Lock()
	c.filter = f
	c.currentPage = 1
	c.refilterLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Container[T, F]) ResetFilter() {
	var zero F
	c.ReplaceFilter(zero)
}

func (c *Container[T, F]) Filter() F {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// Add appends item with a provisional id one above the current maximum and
// stamps its creation fields. The stored copy is returned.
func (c *Container[T, F]) Add(item T, by string) T {
	c.mu.Lock()
	var maxID int64
	for _, it := range c.items {
		maxID = max(maxID, c.acc.ID(it))
	}
	c.acc.SetID(&item, maxID+1)
	if s, ok := any(&item).(stamper); ok {
		s.StampCreated(by, c.clock.Now())
	}
	c.items = append(c.items, item)
	c.refilterLocked()
	c.mu.Unlock()
	c.notify()
	return item
}

// Update merges the non-zero fields of patch into the record with id and
// stamps its change fields. The id itself is never changed.
func (c *Container[T, F]) Update(id int64, patch T, by string) (T, error) {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("store.Update %d: %w", id, apperr.ErrNotFound)
	}
	merged := c.items[i]
	if err := mergo.Merge(&merged, patch, mergo.WithOverride, mergo.WithTransformers(timeTransformer{})); err != nil {
		c.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("store.Update %d merge: %w", id, err)
	}
	c.acc.SetID(&merged, id)
	if s, ok := any(&merged).(stamper); ok {
		s.StampChanged(by, c.clock.Now())
	}
	c.items[i] = merged
	c.refilterLocked()
	c.mu.Unlock()
	c.notify()
	return merged, nil
}

// Replace swaps the record with id for item as-is. Used to roll back an
// optimistic update.
func (c *Container[T, F]) Replace(id int64, item T) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i >= 0 {
		c.items[i] = item
		c.refilterLocked()
	}
	c.mu.Unlock()
	if i >= 0 {
		c.notify()
	}
	return i >= 0
}

// Reconcile replaces the record holding a provisional id with the
// authoritative copy returned by the server.
func (c *Container[T, F]) Reconcile(provisionalID int64, server T) bool {
	return c.Replace(provisionalID, server)
}

// IDOf returns the id the container reads from item.
func (c *Container[T, F]) IDOf(item T) int64 { return c.acc.ID(item) }

// Restore puts back a record removed by Delete, keeping its id. It is a
// no-op when a record with that id is already present.
func (c *Container[T, F]) Restore(item T) bool {
	c.mu.Lock()
	ok := c.indexLocked(c.acc.ID(item)) < 0
	if ok {
		c.items = append(c.items, item)
		c.refilterLocked()
	}
	c.mu.Unlock()
	if ok {
		c.notify()
	}
	return ok
}

func (c *Container[T, F]) Delete(id int64) (T, bool) {
	c.mu.Lock()
	i := c.indexLocked(id)
	var removed T
	if i >= 0 {
		removed = c.items[i]
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		c.refilterLocked()
	}
	c.mu.Unlock()
	if i >= 0 {
		c.notify()
	}
	return removed, i >= 0
}

func (c *Container[T, F]) Get(id int64) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Find returns the first record satisfying match.
func (c *Container[T, F]) Find(match func(T) bool) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if match(it) {
			return it, true
		}
	}
	var zero T
	return zero, false
}

func (c *Container[T, F]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

func (c *Container[T, F]) Filtered() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.filtered...)
}

func (c *Container[T, F]) FilteredCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filtered)
}

// Page returns the current page of the filtered view.
func (c *Container[T, F]) Page() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := (c.currentPage - 1) * c.pageSize
	if start >= len(c.filtered) {
		return nil
	}
	end := min(start+c.pageSize, len(c.filtered))
	return append([]T(nil), c.filtered[start:end]...)
}

func (c *Container[T, F]) CurrentPage() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPage
}

func (c *Container[T, F]) PageSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pageSize
}

// TotalPages is ceil(filtered/pageSize); zero when nothing matches.
func (c *Container[T, F]) TotalPages() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalPagesLocked()
}

// SetPage moves the cursor, clamped to [1, max(1, TotalPages)].
func (c *Container[T, F]) SetPage(page int) {
	c.mu.Lock()
	c.currentPage = page
	c.clampLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Container[T, F]) SetPageSize(size int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	c.mu.Lock()
	c.pageSize = size
	c.currentPage = 1
	c.mu.Unlock()
	c.notify()
}

func (c *Container[T, F]) totalPagesLocked() int {
	return (len(c.filtered) + c.pageSize - 1) / c.pageSize
}

func (c *Container[T, F]) clampLocked() {
	last := max(1, c.totalPagesLocked())
	c.currentPage = min(max(c.currentPage, 1), last)
}

func (c *Container[T, F]) refilterLocked() {
	c.filtered = c.filtered[:0]
	for _, it := range c.items {
		if c.filter.Match(it) {
			c.filtered = append(c.filtered, it)
		}
	}
	c.clampLocked()
}

func (c *Container[T, F]) indexLocked(id int64) int {
	for i, it := range c.items {
		if c.acc.ID(it) == id {
			return i
		}
	}
	return -1
}

// timeTransformer lets a non-zero time in a patch override the stored one
// and leaves the stored one alone otherwise.
type timeTransformer struct{}

var timeType = reflect.TypeOf(time.Time{})

func (timeTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != timeType {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if dst.CanSet() && !src.Interface().(time.Time).IsZero() {
			dst.Set(src)
		}
		return nil
	}
}
