package cart

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Line is one product in a cart together with its quantity.
type Line struct {
	Product

	// Quantity is always >= 1 for a line that is part of a cart.
	Quantity int `json:"quantity" yaml:"quantity"`

	// LineID is the identifier the remote cart assigned, if any.
	LineID string `json:"line_id,omitempty" yaml:"line_id,omitempty"`
}

// Subtotal is price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an immutable snapshot of the cart that belongs to one identity.
// Every modifier returns a new Cart; a published snapshot is never changed,
// so readers can hold one without locking.
//
// A cart without identity is always empty and ignores modifiers.
type Cart struct {
	identity string
	lines    []Line
}

// Empty returns an empty cart for the identity.
func Empty(identity string) Cart {
	return Cart{identity: identity}
}

// New builds a cart from lines. Lines that share a product ID are merged
// into the first occurrence (quantities add up), and lines with a
// quantity below one are dropped.
func New(identity string, lines []Line) Cart {
	c := Empty(identity)
	if identity == "" {
		return c
	}
	for _, l := range lines {
		c = c.Merge(l)
	}
	return c
}

// Identity returns the identity the cart is scoped to.
func (c Cart) Identity() string {
	return c.identity
}

// Lines returns a copy of the lines in cart order.
func (c Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of lines.
func (c Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Line returns the line for productID.
func (c Cart) Line(productID string) (Line, bool) {
	if i := c.index(productID); i >= 0 {
		return c.lines[i], true
	}
	return Line{}, false
}

// Contains reports whether the cart has a line for productID.
func (c Cart) Contains(productID string) bool {
	return c.index(productID) >= 0
}

// ProductIDs returns the product IDs in cart order.
func (c Cart) ProductIDs() []string {
	ids := make([]string, len(c.lines))
	for i, l := range c.lines {
		ids[i] = l.ID
	}
	return ids
}

// Quantity returns the summed quantity of all lines.
func (c Cart) Quantity() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Merge adds a line. An existing line for the same product has its
// quantity increased instead of being duplicated; the incoming product
// data and line ID replace the stored ones when present.
func (c Cart) Merge(l Line) Cart {
	if c.identity == "" || l.ID == "" || l.Quantity < 1 {
		return c
	}
	lines := c.Lines()
	if i := c.index(l.ID); i >= 0 {
		merged := l
		merged.Quantity = lines[i].Quantity + l.Quantity
		if merged.LineID == "" {
			merged.LineID = lines[i].LineID
		}
		lines[i] = merged
	} else {
		lines = append(lines, l)
	}
	return Cart{identity: c.identity, lines: lines}
}

// Without returns the cart minus the line for productID. Removing an
// absent product returns the cart unchanged.
func (c Cart) Without(productID string) Cart {
	i := c.index(productID)
	if i < 0 {
		return c
	}
	lines := make([]Line, 0, len(c.lines)-1)
	lines = append(lines, c.lines[:i]...)
	lines = append(lines, c.lines[i+1:]...)
	return Cart{identity: c.identity, lines: lines}
}

// WithQuantity overwrites the quantity of an existing line in place.
// Quantities below one and unknown products leave the cart unchanged.
func (c Cart) WithQuantity(productID string, quantity int) Cart {
	i := c.index(productID)
	if i < 0 || quantity < 1 {
		return c
	}
	lines := c.Lines()
	lines[i].Quantity = quantity
	return Cart{identity: c.identity, lines: lines}
}

// Total is the sum of price*quantity over every line.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// TotalOf is Total restricted to the product IDs in ids. IDs that are not
// lines of the cart contribute nothing.
func (c Cart) TotalOf(ids map[string]bool) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		if ids[l.ID] {
			total = total.Add(l.Subtotal())
		}
	}
	return total
}

// LineSetKey fingerprints the identity and the set of product IDs. Two
// snapshots have the same key exactly when they belong to the same
// identity and hold the same products, whatever the order or quantities.
func (c Cart) LineSetKey() uint64 {
	ids := c.ProductIDs()
	sort.Strings(ids)

	d := xxhash.New()
	_, _ = d.WriteString(c.identity)
	for _, id := range ids {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(id)
	}
	return d.Sum64()
}

func (c Cart) index(productID string) int {
	for i, l := range c.lines {
		if l.ID == productID {
			return i
		}
	}
	return -1
}

// cartJSON is the wire shape used when a snapshot is rendered.
type cartJSON struct {
	Identity string          `json:"identity" yaml:"identity"`
	Lines    []Line          `json:"lines" yaml:"lines"`
	Count    int             `json:"count" yaml:"count"`
	Total    decimal.Decimal `json:"total" yaml:"total"`
}

// MarshalJSON renders the snapshot with its derived count and total.
func (c Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.view())
}

// MarshalYAML renders the snapshot for yaml.v3 encoders.
func (c Cart) MarshalYAML() (interface{}, error) {
	v := c.view()
	return struct {
		Identity string `yaml:"identity"`
		Lines    []Line `yaml:"lines"`
		Count    int    `yaml:"count"`
		Total    string `yaml:"total"`
	}{v.Identity, v.Lines, v.Count, v.Total.StringFixed(2)}, nil
}

func (c Cart) view() cartJSON {
	return cartJSON{
		Identity: c.identity,
		Lines:    c.Lines(),
		Count:    c.Len(),
		Total:    c.Total(),
	}
}
