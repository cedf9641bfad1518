// Package cart holds the client-side cart model: products as the catalog
// supplies them, cart lines, immutable cart snapshots, the operation status
// reported by the cart store and the error taxonomy shared by every layer.
package cart

import (
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultProductName and DefaultDescription fill in catalog fields the
// remote cart omits.
const (
	DefaultProductName = "Product"
	DefaultDescription = "No description available"
	DefaultImageURL    = "default-image-url.jpg"
)

// Product is a catalog item as the cart sees it. The cart never modifies a
// product; it only copies it into lines.
type Product struct {
	// ID is the catalog identity, stable across sessions.
	ID string `json:"product_id" yaml:"product_id" validate:"required"`

	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// Price is the unit price. Never negative.
	Price decimal.Decimal `json:"price" yaml:"price" validate:"gte=0"`

	// ImageURL is optional.
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`

	Category        string `json:"category,omitempty" yaml:"category,omitempty"`
	CategoryDisplay string `json:"category_display,omitempty" yaml:"category_display,omitempty"`
}

var productValidator = newProductValidator()

func newProductValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Let numeric tags (gte, lte) operate on decimal prices.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Validate checks the product invariants: a non-empty ID and a
// non-negative price.
func (p Product) Validate() error {
	if err := productValidator.Struct(p); err != nil {
		return Invalidf("product %q: %v", p.ID, err)
	}
	return nil
}

// WithDefaults returns a copy with the display defaults applied to empty
// name and description fields.
func (p Product) WithDefaults() Product {
	if p.Name == "" {
		p.Name = DefaultProductName
	}
	if p.Description == "" {
		p.Description = DefaultDescription
	}
	return p
}

// DisplayImage returns the image URL, or the placeholder when none is set.
func (p Product) DisplayImage() string {
	if p.ImageURL == "" {
		return DefaultImageURL
	}
	return p.ImageURL
}
