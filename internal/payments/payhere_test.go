package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/solarshop/api/internal/domain"
)

const (
	testMerchant     = "1211149"
	testSecret       = "s3cr3t"
	testHashedSecret = "A4D80EAC9AB26A4A2DA04125BC2C096A"
)

func newTestPayHere(t *testing.T) *PayHere {
	t.Helper()
	client, err := NewPayHere(PayHereConfig{
		MerchantID:     testMerchant,
		MerchantSecret: testSecret,
		Sandbox:        true,
		CheckoutURL:    "https://sandbox.payhere.lk/pay/checkout",
		FrontendURL:    "https://shop.example.lk/",
		BackendURL:     "https://api.example.lk",
	})
	require.NoError(t, err)
	return client
}

func TestHashSecret(t *testing.T) {
	assert.Equal(t, testHashedSecret, HashSecret(testSecret))
}

func TestInitiateBuildsSignedPayload(t *testing.T) {
	client := newTestPayHere(t)

	payload, err := client.Initiate(InitiationRequest{
		OrderID: "ord_1001",
		Items:   []string{"panel-450", "inverter-5k"},
		Amount:  decimal.RequireFromString("250.5"),
		Customer: Customer{
			FirstName: "Nimal",
			LastName:  "Perera",
			Email:     "nimal@example.lk",
			Phone:     "+94771234567",
			Address:   "12 Galle Road",
			City:      "Colombo",
		},
	})
	require.NoError(t, err)

	assert.True(t, payload.Sandbox)
	assert.True(t, payload.Preapprove)
	assert.Equal(t, testMerchant, payload.MerchantID)
	assert.Equal(t, "https://shop.example.lk/payment-success", payload.ReturnURL)
	assert.Equal(t, "https://api.example.lk/v1/payhere/cancel/ord_1001", payload.CancelURL)
	assert.Equal(t, "https://api.example.lk/v1/payhere/notify", payload.NotifyURL)
	assert.Equal(t, "Sri Lanka", payload.Country)
	assert.Equal(t, "LKR", payload.Currency)
	assert.Equal(t, "250.50", payload.Amount)
	assert.Equal(t, []string{"panel-450", "inverter-5k"}, payload.Items)
	assert.Equal(t, "441725B2DDC0908EE19EB983DAB6654E", payload.Hash)
	assert.Equal(t, InitiationHash(testMerchant, "ord_1001", "250.50", "LKR", testHashedSecret), payload.Hash)
}

func TestInitiateRejectsInvalidRequests(t *testing.T) {
	client := newTestPayHere(t)
	customer := Customer{Email: "a@example.lk"}

	_, err := client.Initiate(InitiationRequest{Amount: decimal.NewFromInt(1), Customer: customer})
	assert.ErrorIs(t, err, ErrInvalidInitiation)

	_, err = client.Initiate(InitiationRequest{OrderID: "ord_1", Amount: decimal.NewFromInt(-1), Customer: customer})
	assert.ErrorIs(t, err, ErrInvalidInitiation)

	_, err = client.Initiate(InitiationRequest{OrderID: "ord_1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInitiation)
}

func TestFormatAmountHasNoSeparators(t *testing.T) {
	assert.Equal(t, "1234567.80", FormatAmount(decimal.RequireFromString("1234567.8")))
	assert.Equal(t, "0.00", FormatAmount(decimal.Zero))
	assert.Equal(t, "10.13", FormatAmount(decimal.RequireFromString("10.125")))
}

func TestVerifyOutcomes(t *testing.T) {
	client := newTestPayHere(t)

	base := domain.PaymentNotification{
		MerchantID: testMerchant,
		OrderID:    "ord_1001",
		Amount:     "250.50",
		Currency:   "LKR",
		StatusCode: "2",
		Signature:  "A70486784C2BC0A40099D09541CD07D0",
	}

	tests := []struct {
		name   string
		mutate func(n *domain.PaymentNotification)
		want   Outcome
	}{
		{name: "verified", mutate: func(*domain.PaymentNotification) {}, want: OutcomeVerified},
		{
			name:   "lower case signature is rejected",
			mutate: func(n *domain.PaymentNotification) { n.Signature = "a70486784c2bc0a40099d09541cd07d0" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "tampered amount",
			mutate: func(n *domain.PaymentNotification) { n.Amount = "1.00" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "one character of amount changed",
			mutate: func(n *domain.PaymentNotification) { n.Amount = "250.51" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "one character of order id changed",
			mutate: func(n *domain.PaymentNotification) { n.OrderID = "ord_1002" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "status code changed without re-signing",
			mutate: func(n *domain.PaymentNotification) { n.StatusCode = "0" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "status code flipped to failure without re-signing",
			mutate: func(n *domain.PaymentNotification) { n.StatusCode = "-2" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name:   "one character of currency changed",
			mutate: func(n *domain.PaymentNotification) { n.Currency = "LKS" },
			want:   OutcomeSignatureMismatch,
		},
		{
			name: "failed payment with valid signature",
			mutate: func(n *domain.PaymentNotification) {
				n.StatusCode = "-2"
				n.Signature = "059F4F17001F3A97B4BA0FFF5EBFDF56"
			},
			want: OutcomeGatewayFailure,
		},
		{
			name: "signature for another merchant",
			mutate: func(n *domain.PaymentNotification) {
				n.MerchantID = "9999999"
				n.Signature = "C3B40BA84BC189CBF8C8325410B8BC33"
			},
			want: OutcomeMerchantMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := base
			tc.mutate(&n)
			got := client.Verify(n)
			assert.Equal(t, tc.want, got.Outcome)
			assert.Equal(t, tc.want == OutcomeVerified, got.Verified())
		})
	}
}

func TestVerifyParsesAmount(t *testing.T) {
	client := newTestPayHere(t)
	got := client.Verify(domain.PaymentNotification{
		MerchantID: testMerchant,
		OrderID:    "ord_1001",
		Amount:     "250.50",
		Currency:   "LKR",
		StatusCode: "2",
		Signature:  NotificationSignature(testMerchant, "ord_1001", "250.50", "LKR", "2", testHashedSecret),
	})
	require.True(t, got.Verified())
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, "ord_1001", got.OrderID)
}

func TestNewPayHereValidatesConfig(t *testing.T) {
	_, err := NewPayHere(PayHereConfig{MerchantSecret: "x", FrontendURL: "https://a", BackendURL: "https://b"})
	assert.Error(t, err)

	_, err = NewPayHere(PayHereConfig{MerchantID: "1", FrontendURL: "https://a", BackendURL: "https://b"})
	assert.Error(t, err)

	_, err = NewPayHere(PayHereConfig{MerchantID: "1", MerchantSecret: "x", FrontendURL: "shop", BackendURL: "https://b"})
	assert.Error(t, err)

	_, err = NewPayHere(PayHereConfig{MerchantID: "1", MerchantSecret: "x", FrontendURL: "https://a"})
	assert.Error(t, err)
}
