package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/solarshop/api/internal/domain"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog products from Firestore.
type ProductRepository struct {
	base *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewCollection[productDocument](provider, productCollection)}, nil
}

// FindByIDs batch-loads products; unknown ids are skipped.
func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}
	docs, err := r.base.GetAll(ctx, dedupeIDs(ids))
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

type productDocument struct {
	Name         string    `firestore:"name"`
	Description  string    `firestore:"description,omitempty"`
	PriceMinor   *int64    `firestore:"priceMinor,omitempty"`
	LegacyPrice  *float64  `firestore:"price,omitempty"`
	Stock        int       `firestore:"stock"`
	IsAvailable  *bool     `firestore:"isAvailable,omitempty"`
	Category     string    `firestore:"category,omitempty"`
	Wattage      float64   `firestore:"wattage,omitempty"`
	Voltage      float64   `firestore:"voltage,omitempty"`
	Dimensions   string    `firestore:"dimensions,omitempty"`
	Weight       float64   `firestore:"weight,omitempty"`
	Manufacturer string    `firestore:"manufacturer,omitempty"`
	Warranty     string    `firestore:"warranty,omitempty"`
	Images       []string  `firestore:"images,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// price prefers priceMinor. Documents written before minor units carry only a float price,
// which is rounded to cents.
func (d productDocument) price() decimal.Decimal {
	switch {
	case d.PriceMinor != nil:
		return fromMinorUnits(*d.PriceMinor)
	case d.LegacyPrice != nil:
		return decimal.NewFromFloat(*d.LegacyPrice).Round(minorUnitExponent)
	}
	return decimal.Zero
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         d.Name,
		Description:  d.Description,
		Price:        d.price(),
		Stock:        d.Stock,
		IsAvailable:  d.IsAvailable == nil || *d.IsAvailable,
		Category:     d.Category,
		Wattage:      d.Wattage,
		Voltage:      d.Voltage,
		Dimensions:   d.Dimensions,
		Weight:       d.Weight,
		Manufacturer: d.Manufacturer,
		Warranty:     d.Warranty,
		Images:       append([]string(nil), d.Images...),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newProductDocument(p domain.Product) productDocument {
	minor := toMinorUnits(p.Price)
	return productDocument{
		Name:         p.Name,
		Description:  p.Description,
		PriceMinor:   &minor,
		Stock:        p.Stock,
		IsAvailable:  &p.IsAvailable,
		Category:     p.Category,
		Wattage:      p.Wattage,
		Voltage:      p.Voltage,
		Dimensions:   p.Dimensions,
		Weight:       p.Weight,
		Manufacturer: p.Manufacturer,
		Warranty:     p.Warranty,
		Images:       p.Images,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
