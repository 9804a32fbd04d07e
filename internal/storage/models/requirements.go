package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CategorizedRequirements is the requirement store document: category to
// requirement texts, with categories kept in first-seen order.
type CategorizedRequirements struct {
	order []string
	items map[string][]string
}

func NewCategorizedRequirements() *CategorizedRequirements {
	return &CategorizedRequirements{items: make(map[string][]string)}
}

func (c *CategorizedRequirements) ensure(category string) {
	if c.items == nil {
		c.items = make(map[string][]string)
	}
	if _, ok := c.items[category]; !ok {
		c.order = append(c.order, category)
		c.items[category] = nil
	}
}

// Append adds texts to category as-is.
func (c *CategorizedRequirements) Append(category string, texts ...string) {
	c.ensure(category)
	c.items[category] = append(c.items[category], texts...)
}

// Merge adds text to category unless the category already holds it.
func (c *CategorizedRequirements) Merge(category, text string) bool {
	c.ensure(category)
	for _, existing := range c.items[category] {
		if existing == text {
			return false
		}
	}
	c.items[category] = append(c.items[category], text)
	return true
}

func (c *CategorizedRequirements) Categories() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *CategorizedRequirements) Get(category string) []string {
	return c.items[category]
}

// Len counts requirement texts across all categories.
func (c *CategorizedRequirements) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, texts := range c.items {
		n += len(texts)
	}
	return n
}

func (c *CategorizedRequirements) Map() map[string][]string {
	out := make(map[string][]string, len(c.items))
	for k, v := range c.items {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c *CategorizedRequirements) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, category := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(category)
		if err != nil {
			return nil, err
		}
		texts := c.items[category]
		if texts == nil {
			texts = []string{}
		}
		value, err := json.Marshal(texts)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *CategorizedRequirements) UnmarshalJSON(data []byte) error {
	*c = CategorizedRequirements{items: make(map[string][]string)}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read requirement document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("requirement document must be a JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read category: %w", err)
		}
		category, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var texts []string
		if err := dec.Decode(&texts); err != nil {
			return fmt.Errorf("category %q must be a list of strings: %w", category, err)
		}
		c.Append(category, texts...)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to close requirement document: %w", err)
	}
	return nil
}

const (
	GroupPositive = "Positive"
	GroupNegative = "Negative"
	GroupBoundary = "Boundary"
)

var GroupOrder = []string{GroupPositive, GroupNegative, GroupBoundary}

// TestCaseGroups holds generated test cases keyed by GroupOrder names.
type TestCaseGroups map[string][]string

func NewTestCaseGroups() TestCaseGroups {
	return TestCaseGroups{GroupPositive: {}, GroupNegative: {}, GroupBoundary: {}}
}

func (g TestCaseGroups) Extend(other TestCaseGroups) {
	for _, name := range GroupOrder {
		g[name] = append(g[name], other[name]...)
	}
}

func (g TestCaseGroups) Len() int {
	n := 0
	for _, name := range GroupOrder {
		n += len(g[name])
	}
	return n
}
