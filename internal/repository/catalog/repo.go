// Package catalog stores the card catalog as one hash per card.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/cardsense/internal/db"
	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/domain/card"
)

const (
	fieldCardID  = "card_id"
	fieldPayload = "payload"
)

// store is the consumer interface for the catalog (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
}

// Repo reads and writes catalog cards.
type Repo struct {
	store  store
	prefix string
}

// New creates a catalog repository. keyPrefix is the global namespace, e.g. "cardsense:".
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix + "card:"}
}

// List returns up to limit cards ordered by Card_ID. limit <= 0 means all.
func (r *Repo) List(ctx context.Context, limit int) ([]card.Card, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan cards: %w", err)
	}
	if len(keys) == 0 {
		return []card.Card{}, nil
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi cards: %w", err)
	}

	cards := make([]card.Card, 0, len(hashes))
	for i, h := range hashes {
		if len(h) == 0 {
			continue
		}
		c, err := decode(h)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", keys[i], err)
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// Get returns a single card.
func (r *Repo) Get(ctx context.Context, id string) (card.Card, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("card id is required: %w", domain.ErrInvalidInput)
	}
	h, err := r.store.HGetAll(ctx, r.prefix+id)
	if err != nil {
		return nil, fmt.Errorf("hgetall card %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	return decode(h)
}

// Put writes cards in one round-trip, replacing cards with the same Card_ID.
func (r *Repo) Put(ctx context.Context, cards []card.Card) error {
	items := make([]db.HashSetItem, 0, len(cards))
	for i, c := range cards {
		id := c.ID()
		if id == "" {
			return fmt.Errorf("card #%d has no %s: %w", i, card.IDField, domain.ErrInvalidInput)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode card %s: %w", id, err)
		}
		items = append(items, db.HashSetItem{
			Key:    r.prefix + id,
			Fields: map[string]string{fieldCardID: id, fieldPayload: string(data)},
		})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset cards: %w", err)
	}
	return nil
}

// Delete removes one card.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, r.prefix+id); err != nil {
		return fmt.Errorf("del card %s: %w", id, err)
	}
	return nil
}

func decode(h map[string]string) (card.Card, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(h[fieldPayload])))
	dec.UseNumber()
	var c card.Card
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode card: %w", err)
	}
	return c, nil
}
