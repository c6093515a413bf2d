package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarshop/api/internal/services"
)

func confirmationData() services.OrderEmailData {
	return services.OrderEmailData{
		CustomerName:     "Nimal Perera",
		OrderID:          "ord_1001",
		OrderDate:        "May 6, 2025",
		DeliveryDate:     "To be determined",
		BranchName:       "Colombo",
		Status:           "Paid",
		Currency:         "LKR",
		TotalPrice:       decimal.RequireFromString("251250.50"),
		Notes:            "Gate code <b>42</b>",
		OrderTrackingURL: "https://shop.example.lk/orders/ord_1001",
		Products: []services.OrderEmailLine{
			{Name: "Mono 400W Panel", Quantity: 2, Price: decimal.RequireFromString("125000.25"), Total: decimal.RequireFromString("250000.50")},
			{Name: "MC4 Connector", Quantity: 10, Price: decimal.RequireFromString("125"), Total: decimal.RequireFromString("1250")},
		},
	}
}

func newEmbeddedRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(context.Background(), EmbeddedSource())
	require.NoError(t, err)
	return r
}

func TestRendererConfirmationHTML(t *testing.T) {
	r := newEmbeddedRenderer(t)
	out, err := r.Render(services.TemplateOrderConfirmation, "Your Order Confirmation", confirmationData())
	require.NoError(t, err)
	assert.Equal(t, "Your Order Confirmation", out.Subject)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out.HTML))
	require.NoError(t, err)

	assert.Equal(t, "Your Order Confirmation", doc.Find("title").Text())
	assert.Equal(t, "ord_1001", doc.Find(".order-id").Text())
	assert.Equal(t, "To be determined", doc.Find(".delivery-date").Text())
	assert.Equal(t, "Colombo", doc.Find(".branch").Text())
	assert.Equal(t, 2, doc.Find(".order-line").Length())
	assert.Equal(t, "Mono 400W Panel", doc.Find(".order-line .name").First().Text())
	assert.Equal(t, "LKR 125,000.25", doc.Find(".order-line .price").First().Text())
	assert.Equal(t, "LKR 251,250.50", doc.Find(".order-total").Text())

	href, ok := doc.Find("a.tracking").Attr("href")
	require.True(t, ok)
	assert.Equal(t, "https://shop.example.lk/orders/ord_1001", href)

	// notes are escaped, never interpreted as markup
	assert.Equal(t, 0, doc.Find(".notes b").Length())
	assert.Contains(t, doc.Find(".notes").Text(), "Gate code <b>42</b>")
}

func TestRendererCancellationIncludesSupportLink(t *testing.T) {
	r := newEmbeddedRenderer(t)
	data := confirmationData()
	data.DeliveryDate = "Not specified"
	data.CancellationDate = "May 7, 2025"
	data.CustomerSupportURL = "https://shop.example.lk/contact"
	data.Notes = ""

	out, err := r.Render(services.TemplateOrderCancellation, "Your Order Has Been Cancelled", data)
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out.HTML))
	require.NoError(t, err)
	assert.Equal(t, "May 7, 2025", doc.Find(".cancellation-date").Text())
	assert.Equal(t, "Not specified", doc.Find(".delivery-date").Text())
	assert.Equal(t, 0, doc.Find(".notes").Length())
	href, _ := doc.Find("a.support").Attr("href")
	assert.Equal(t, "https://shop.example.lk/contact", href)

	assert.Contains(t, out.Text, "Order ord_1001 was cancelled on May 7, 2025.")
	assert.Contains(t, out.Text, "https://shop.example.lk/contact")
}

func TestRendererPlainText(t *testing.T) {
	r := newEmbeddedRenderer(t)
	out, err := r.Render(services.TemplateOrderConfirmation, "Your Order Confirmation", confirmationData())
	require.NoError(t, err)

	assert.Contains(t, out.Text, "Thank you for your order, Nimal Perera!")
	assert.Contains(t, out.Text, "- MC4 Connector x10 @ LKR 125.00 = LKR 1,250.00")
	assert.Contains(t, out.Text, "Total: LKR 251,250.50")
	assert.True(t, strings.HasSuffix(out.Text, "\n"))
}

func TestRendererUnknownTemplate(t *testing.T) {
	r := newEmbeddedRenderer(t)
	_, err := r.Render("welcome", "Hi", nil)
	assert.True(t, errors.Is(err, ErrUnknownTemplate))
	assert.ElementsMatch(t, []string{services.TemplateOrderConfirmation, services.TemplateOrderCancellation}, r.Templates())
}

func TestFormatMoneyUsesCurrencyScale(t *testing.T) {
	r := newEmbeddedRenderer(t)
	assert.Equal(t, "LKR 1,250.50", r.FormatMoney(decimal.RequireFromString("1250.5"), "lkr"))
	assert.Equal(t, "JPY 1,250", r.FormatMoney(decimal.RequireFromString("1250.4"), "JPY"))
	assert.Equal(t, "0.00", r.FormatMoney(decimal.Zero, ""))
}

func TestNewRendererFromCustomSource(t *testing.T) {
	fsys := fstest.MapFS{
		"catalog.yaml":  {Data: []byte("templates:\n  ping:\n    text: ping.txt.tmpl\n")},
		"ping.txt.tmpl": {Data: []byte("pong {{.Data}} {{.Subject}}")},
	}
	r, err := NewRenderer(context.Background(), NewFSSource(fsys))
	require.NoError(t, err)

	out, err := r.Render("ping", "subject", "42")
	require.NoError(t, err)
	assert.Equal(t, "pong 42 subject\n", out.Text)
	assert.Empty(t, out.HTML)
}

func TestNewRendererRejectsBrokenTemplates(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"missing catalog": {},
		"missing file": {
			"catalog.yaml": {Data: []byte("templates:\n  ping:\n    text: ping.txt.tmpl\n")},
		},
		"parse error": {
			"catalog.yaml":  {Data: []byte("templates:\n  ping:\n    text: ping.txt.tmpl\n")},
			"ping.txt.tmpl": {Data: []byte("{{if}")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRenderer(context.Background(), NewFSSource(fsys))
			assert.Error(t, err)
		})
	}
}
