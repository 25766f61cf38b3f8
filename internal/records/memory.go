package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and as a degraded fallback
// when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage // collection -> id -> body
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]json.RawMessage),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if _, err := tableFor(collection); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.data[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return Document{ID: id, Data: append(json.RawMessage(nil), body...)}, nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]Document, error) {
	if _, err := tableFor(q.Collection); err != nil {
		return nil, err
	}
	for _, f := range q.Filters {
		if !validOp(f.Op) {
			return nil, fmt.Errorf("%w: %q", ErrBadFilter, f.Op)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Document
	for id, body := range s.data[q.Collection] {
		fields := map[string]any{}
		if err := json.Unmarshal(body, &fields); err != nil {
			continue
		}
		if !matchesFilters(fields, q.Filters) {
			continue
		}
		docs = append(docs, Document{ID: id, Data: append(json.RawMessage(nil), body...)})
	}

	sortDocs(docs, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *MemoryStore) Put(ctx context.Context, collection, id string, data json.RawMessage) error {
	if _, err := tableFor(collection); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("records: put %s/%s: body is not valid JSON", collection, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[collection] == nil {
		s.data[collection] = make(map[string]json.RawMessage)
	}
	s.data[collection][id] = append(json.RawMessage(nil), data...)
	return nil
}

func (s *MemoryStore) Patch(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := tableFor(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := s.data[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	current := map[string]any{}
	if err := json.Unmarshal(body, &current); err != nil {
		return fmt.Errorf("records: patch %s/%s: %w", collection, id, err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("records: patch %s/%s: %w", collection, id, err)
	}
	s.data[collection][id] = merged
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := tableFor(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[collection], id)
	return nil
}

func matchesFilters(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		actual, ok := fields[f.Field]
		if !ok {
			return false
		}
		if !compare(actual, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func compare(actual any, op string, expected any) bool {
	if an, aok := toFloat(actual); aok {
		if en, eok := toFloat(expected); eok {
			return compareOrdered(an, op, en)
		}
	}
	return compareOrdered(fmt.Sprint(actual), op, fmt.Sprint(expected))
}

func compareOrdered[T interface{ string | float64 }](a T, op string, b T) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func sortDocs(docs []Document, orderBy string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		if orderBy == "" {
			return docs[i].ID < docs[j].ID
		}
		vi := fieldString(docs[i].Data, orderBy)
		vj := fieldString(docs[j].Data, orderBy)
		if vi == vj {
			return docs[i].ID < docs[j].ID
		}
		if desc {
			return vi > vj
		}
		return vi < vj
	})
}

func fieldString(data json.RawMessage, field string) string {
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return ""
	}
	v, ok := fields[field]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
