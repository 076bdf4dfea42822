package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
)

const batchSize = 200

// decodeCards accepts a JSON array of cards or an object with a "cards" array.
// Cards without a Card_ID are counted in skipped.
func decodeCards(data []byte) (cards []card.Card, skipped int, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decode cards: %w", err)
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		l, ok := v["cards"].([]any)
		if !ok {
			return nil, 0, errors.New(`object without a "cards" array`)
		}
		list = l
	default:
		return nil, 0, fmt.Errorf("expected an array of cards, got %T", raw)
	}

	cards = make([]card.Card, 0, len(list))
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		c := card.Card(m)
		if c.ID() == "" {
			skipped++
			continue
		}
		cards = append(cards, c)
	}
	return cards, skipped, nil
}
