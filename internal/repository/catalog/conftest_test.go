package catalog

import (
	"context"
	"path"
	"testing"

	"github.com/kailas-cloud/cardsense/internal/db"
)

// memStore is an in-memory hash store.
type memStore struct {
	hashes  map[string]map[string]string
	scanErr error
}

func (m *memStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	for _, it := range items {
		m.hashes[it.Key] = it.Fields
	}
	return nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if h, ok := m.hashes[key]; ok {
		return h, nil
	}
	return map[string]string{}, nil
}

func (m *memStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i], _ = m.HGetAll(ctx, k)
	}
	return out, nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var keys []string
	for k := range m.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	delete(m.hashes, key)
	return nil
}

func newTestRepo(t *testing.T) (*Repo, *memStore) {
	t.Helper()
	ms := &memStore{hashes: map[string]map[string]string{}}
	return New(ms, "cardsense:"), ms
}
