package firestore

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	domain "github.com/solarshop/api/internal/domain"
)

func TestMinorUnitsRoundTripExactly(t *testing.T) {
	for _, raw := range []string{"0", "0.1", "0.29", "100.50", "1234567.89", "19999999.99"} {
		amount := decimal.RequireFromString(raw)
		assert.True(t, amount.Equal(fromMinorUnits(toMinorUnits(amount))), raw)
	}
	assert.Equal(t, int64(1013), toMinorUnits(decimal.RequireFromString("10.125")))
}

func TestOrderDocumentKeepsExactAmounts(t *testing.T) {
	lines := []domain.OrderLine{
		{ProductID: "panel", Quantity: 3, Price: decimal.RequireFromString("0.10")},
		{ProductID: "cable", Quantity: 7, Price: decimal.RequireFromString("1234567.29")},
	}
	order := domain.Order{Lines: lines, TotalPrice: domain.LinesTotal(lines)}

	doc := newOrderDocument(order)
	assert.Equal(t, int64(864197133), doc.TotalMinor)

	back := doc.toDomain("ord_1")
	assert.True(t, order.TotalPrice.Equal(back.TotalPrice), "total %s != %s", order.TotalPrice, back.TotalPrice)
	for i, line := range back.Lines {
		assert.True(t, lines[i].Price.Equal(line.Price), "line %d price %s", i, line.Price)
	}
}

func TestProductDocumentPrice(t *testing.T) {
	minor := int64(45000)
	legacy := 99.99

	assert.Equal(t, "450", productDocument{PriceMinor: &minor}.price().String())
	assert.Equal(t, "99.99", productDocument{LegacyPrice: &legacy}.price().String())
	assert.True(t, productDocument{}.price().IsZero())

	doc := newProductDocument(domain.Product{Price: decimal.RequireFromString("249.95")})
	if assert.NotNil(t, doc.PriceMinor) {
		assert.Equal(t, int64(24995), *doc.PriceMinor)
	}
	assert.Nil(t, doc.LegacyPrice)
}
