package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

// flexString decodes a JSON string or number into its string form.
type flexString string

// UnmarshalJSON accepts "p1", 12 and null.
func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// cartItem is one element of the GET cart response.
type cartItem struct {
	ID                 flexString      `json:"id"`
	Product            flexString      `json:"product"`
	ProductName        string          `json:"product_name"`
	ProductDescription string          `json:"product_description"`
	ProductPrice       decimal.Decimal `json:"product_price"`
	ProductImage       *string         `json:"product_image"`
	Category           string          `json:"category"`
	CategoryDisplay    string          `json:"category_display"`
	Quantity           int             `json:"quantity"`
}

func (it cartItem) line() cart.Line {
	p := cart.Product{
		ID:              string(it.Product),
		Name:            it.ProductName,
		Description:     it.ProductDescription,
		Price:           it.ProductPrice,
		Category:        it.Category,
		CategoryDisplay: it.CategoryDisplay,
	}
	if it.ProductImage != nil {
		p.ImageURL = *it.ProductImage
	}
	return cart.Line{
		Product:  p.WithDefaults(),
		Quantity: it.Quantity,
		LineID:   string(it.ID),
	}
}

// addRequest is the POST add body.
type addRequest struct {
	ProductID json.RawMessage `json:"product_id"`
	Quantity  int             `json:"quantity"`
}

// productRef encodes a product ID as a JSON number when it is a canonical
// integer, the catalog's native key type, and as a string otherwise. "007"
// and "+5" parse as integers but are not valid JSON numbers, so they stay
// strings.
func productRef(id string) json.RawMessage {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(n, 10) == id {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

// Fetch returns the authoritative cart of the session's identity.
func (c *Client) Fetch(ctx context.Context, sess session.Session) (cart.Cart, error) {
	var items []cartItem
	err := c.do(ctx, sess, call{
		op:     "fetch",
		method: http.MethodGet,
		path:   c.paths.Cart,
		result: &items,
	})
	if err != nil {
		return cart.Empty(sess.Identity), err
	}

	lines := make([]cart.Line, 0, len(items))
	for _, it := range items {
		l := it.line()
		if err := l.Validate(); err != nil {
			c.logger.WarnContext(ctx, "skipping malformed cart line", "line_id", l.LineID, "error", err)
			continue
		}
		lines = append(lines, l)
	}
	return cart.New(sess.Identity, lines), nil
}

// Add appends productID or increments its quantity server-side.
func (c *Client) Add(ctx context.Context, sess session.Session, productID string, quantity int) error {
	if productID == "" {
		return &cart.GatewayError{Kind: cart.ErrInvalid, Op: "add", Message: "product id is required"}
	}
	if quantity < 1 {
		return &cart.GatewayError{Kind: cart.ErrInvalid, Op: "add", Message: "quantity must be at least 1"}
	}
	return c.do(ctx, sess, call{
		op:     "add",
		method: http.MethodPost,
		path:   c.paths.Add,
		body:   addRequest{ProductID: productRef(productID), Quantity: quantity},
	})
}

// Remove deletes the line for productID.
func (c *Client) Remove(ctx context.Context, sess session.Session, productID string) error {
	if productID == "" {
		return &cart.GatewayError{Kind: cart.ErrInvalid, Op: "remove", Message: "product id is required"}
	}
	path := strings.ReplaceAll(c.paths.Remove, "{product_id}", url.PathEscape(productID))
	return c.do(ctx, sess, call{
		op:     "remove",
		method: http.MethodDelete,
		path:   path,
	})
}
