package store

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"sar/internal/model"
)

//go:embed fallback_progress.json
var fallbackProgressJSON []byte

// FallbackProgress returns the bundled progress dataset used when nothing
// has been loaded from the backend.
func FallbackProgress() []model.UARProgress {
	var rows []model.UARProgress
	if err := json.Unmarshal(fallbackProgressJSON, &rows); err != nil {
		panic(fmt.Sprintf("store: bundled fallback_progress.json is invalid: %v", err))
	}
	return rows
}

// Summary is one bar of a progress chart.
type Summary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Percentage float64 `json:"percentage"`
}

// ProgressStore holds UAR progress rows and the period/division filter.
// Until SetData is called every aggregate is computed from the bundled
// fallback dataset.
type ProgressStore struct {
	mu     sync.RWMutex
	data   []model.UARProgress
	filter model.ProgressFilter

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{observers: make(map[int]func())}
}

func (s *ProgressStore) Subscribe(fn func()) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *ProgressStore) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetData replaces the loaded rows. A nil slice returns the store to the
// fallback dataset.
func (s *ProgressStore) SetData(rows []model.UARProgress) {
	s.mu.Lock()
	if rows == nil {
		s.data = nil
	} else {
		s.data = append(make([]model.UARProgress, 0, len(rows)), rows...)
	}
	s.mu.Unlock()
	s.notify()
}

// HasData reports whether rows were loaded from the backend.
func (s *ProgressStore) HasData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data != nil
}

// SetFilter merges the non-empty fields of partial into the filter.
func (s *ProgressStore) SetFilter(partial model.ProgressFilter) {
	s.mu.Lock()
	if partial.Period != "" {
		s.filter.Period = partial.Period
	}
	if partial.DivisionID != "" {
		s.filter.DivisionID = partial.DivisionID
	}
	s.mu.Unlock()
	s.notify()
}

func (s *ProgressStore) ResetFilter() {
	s.mu.Lock()
	s.filter = model.ProgressFilter{}
	s.mu.Unlock()
	s.notify()
}

func (s *ProgressStore) Filter() model.ProgressFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Rows returns the rows matching the filter.
func (s *ProgressStore) Rows() []model.UARProgress {
	s.mu.RLock()
	data, filter := s.data, s.filter
	s.mu.RUnlock()
	if data == nil {
		data = FallbackProgress()
	}
	var out []model.UARProgress
	for _, r := range data {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// GrandTotal is the mean completion percentage of the matching rows,
// rounded to two decimals. Zero when nothing matches.
func (s *ProgressStore) GrandTotal() float64 {
	rows := s.Rows()
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += r.Percentage()
	}
	return round2(sum / float64(len(rows)))
}

// DivisionSummary groups the matching rows by division.
func (s *ProgressStore) DivisionSummary() []Summary {
	return summarize(s.Rows(), func(r model.UARProgress) (string, string) {
		return r.DivisionID, r.DivisionName
	})
}

// SystemSummary groups the matching rows by system.
func (s *ProgressStore) SystemSummary() []Summary {
	return summarize(s.Rows(), func(r model.UARProgress) (string, string) {
		return r.SystemID, r.SystemName
	})
}

func summarize(rows []model.UARProgress, key func(model.UARProgress) (string, string)) []Summary {
	byID := make(map[string]*Summary)
	for _, r := range rows {
		id, name := key(r)
		sm, ok := byID[id]
		if !ok {
			sm = &Summary{ID: id, Name: name}
			byID[id] = sm
		}
		sm.Total += r.Total
		sm.Completed += r.Completed
	}
	out := make([]Summary, 0, len(byID))
	for _, sm := range byID {
		if sm.Total > 0 {
			sm.Percentage = round2(float64(sm.Completed) * 100 / float64(sm.Total))
		}
		out = append(out, *sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
