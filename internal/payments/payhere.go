package payments

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/solarshop/api/internal/domain"
)

// StatusCodeSuccess is the PayHere status_code reported for a captured payment.
const StatusCodeSuccess = "2"

const (
	defaultCurrency = "LKR"
	defaultCountry  = "Sri Lanka"
	returnPath      = "/payment-success"
	cancelPath      = "/v1/payhere/cancel/"
	notifyPath      = "/v1/payhere/notify"
)

var (
	// ErrInvalidInitiation indicates the checkout payload could not be built from the request.
	ErrInvalidInitiation = errors.New("payhere: invalid initiation request")
)

// Outcome classifies a gateway notification after signature verification.
type Outcome string

const (
	// OutcomeVerified indicates a valid signature reporting a captured payment.
	OutcomeVerified Outcome = "verified"
	// OutcomeSignatureMismatch indicates md5sig did not match the locally computed value.
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	// OutcomeMerchantMismatch indicates a valid signature for another merchant account.
	OutcomeMerchantMismatch Outcome = "merchant_mismatch"
	// OutcomeGatewayFailure indicates a valid signature reporting a non-success status.
	OutcomeGatewayFailure Outcome = "gateway_failure"
)

// PayHereConfig configures the hosted-checkout integration.
type PayHereConfig struct {
	MerchantID     string
	MerchantSecret string
	Sandbox        bool
	Currency       string
	Country        string
	CheckoutURL    string
	FrontendURL    string
	BackendURL     string
}

// Customer is the billing identity sent with the checkout payload.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	Country   string
}

// InitiationRequest describes the order being paid for.
type InitiationRequest struct {
	OrderID  string
	Items    []string
	Amount   decimal.Decimal
	Currency string
	Customer Customer
}

// Verification is the result of checking a notification. A failed verification is a value,
// not an error.
type Verification struct {
	Outcome    Outcome
	OrderID    string
	Amount     decimal.Decimal
	AmountText string
	Currency   string
	StatusCode string
}

// Verified reports whether the notification proves a captured payment.
func (v Verification) Verified() bool {
	return v.Outcome == OutcomeVerified
}

// PayHere builds checkout payloads and verifies notifications for one merchant account.
type PayHere struct {
	merchantID   string
	hashedSecret string
	sandbox      bool
	currency     string
	country      string
	checkoutURL  string
	returnURL    string
	cancelBase   string
	notifyURL    string
}

// NewPayHere validates cfg and derives the callback URLs.
func NewPayHere(cfg PayHereConfig) (*PayHere, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" {
		return nil, errors.New("payhere: merchant id is required")
	}
	if strings.TrimSpace(cfg.MerchantSecret) == "" {
		return nil, errors.New("payhere: merchant secret is required")
	}
	frontend, err := baseURL(cfg.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("payhere: frontend url: %w", err)
	}
	backend, err := baseURL(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("payhere: backend url: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = defaultCountry
	}

	return &PayHere{
		merchantID:   merchantID,
		hashedSecret: HashSecret(cfg.MerchantSecret),
		sandbox:      cfg.Sandbox,
		currency:     currency,
		country:      country,
		checkoutURL:  strings.TrimSpace(cfg.CheckoutURL),
		returnURL:    frontend + returnPath,
		cancelBase:   backend + cancelPath,
		notifyURL:    backend + notifyPath,
	}, nil
}

// MerchantID returns the configured merchant account.
func (p *PayHere) MerchantID() string {
	return p.merchantID
}

// Initiate builds the signed payload the browser posts to the checkout page.
func (p *PayHere) Initiate(req InitiationRequest) (domain.PaymentInitiation, error) {
	if p == nil {
		return domain.PaymentInitiation{}, errors.New("payhere: client is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.PaymentInitiation{}, fmt.Errorf("%w: order id is required", ErrInvalidInitiation)
	}
	if req.Amount.IsNegative() {
		return domain.PaymentInitiation{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidInitiation)
	}
	if strings.TrimSpace(req.Customer.Email) == "" {
		return domain.PaymentInitiation{}, fmt.Errorf("%w: customer email is required", ErrInvalidInitiation)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = p.currency
	}
	country := strings.TrimSpace(req.Customer.Country)
	if country == "" {
		country = p.country
	}
	amount := FormatAmount(req.Amount)
	items := append([]string(nil), req.Items...)
	if items == nil {
		items = []string{}
	}

	return domain.PaymentInitiation{
		Sandbox:     p.sandbox,
		Preapprove:  true,
		MerchantID:  p.merchantID,
		ReturnURL:   p.returnURL,
		CancelURL:   p.cancelBase + url.PathEscape(orderID),
		NotifyURL:   p.notifyURL,
		FirstName:   req.Customer.FirstName,
		LastName:    req.Customer.LastName,
		Email:       req.Customer.Email,
		Phone:       req.Customer.Phone,
		Address:     req.Customer.Address,
		City:        req.Customer.City,
		Country:     country,
		OrderID:     orderID,
		Items:       items,
		Currency:    currency,
		Amount:      amount,
		Hash:        p.initiationHash(orderID, amount, currency),
		CheckoutURL: p.checkoutURL,
	}, nil
}

// Verify recomputes md5sig and classifies the notification.
func (p *PayHere) Verify(n domain.PaymentNotification) Verification {
	result := Verification{
		Outcome:    OutcomeSignatureMismatch,
		OrderID:    n.OrderID,
		AmountText: n.Amount,
		Currency:   n.Currency,
		StatusCode: n.StatusCode,
	}
	if p == nil {
		return result
	}
	if amount, err := decimal.NewFromString(strings.TrimSpace(n.Amount)); err == nil {
		result.Amount = amount
	}

	expected := NotificationSignature(n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode, p.hashedSecret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.Signature)) != 1 {
		return result
	}
	switch {
	case n.MerchantID != p.merchantID:
		result.Outcome = OutcomeMerchantMismatch
	case n.StatusCode != StatusCodeSuccess:
		result.Outcome = OutcomeGatewayFailure
	default:
		result.Outcome = OutcomeVerified
	}
	return result
}

func (p *PayHere) initiationHash(orderID, amount, currency string) string {
	return upperMD5(p.merchantID + orderID + amount + currency + p.hashedSecret)
}

// HashSecret returns UPPER(MD5(secret)), the form in which the merchant secret enters every hash.
func HashSecret(secret string) string {
	return upperMD5(secret)
}

// InitiationHash computes the checkout hash from an already hashed secret.
func InitiationHash(merchantID, orderID, amount, currency, hashedSecret string) string {
	return upperMD5(merchantID + orderID + amount + currency + hashedSecret)
}

// NotificationSignature computes md5sig from an already hashed secret.
func NotificationSignature(merchantID, orderID, amount, currency, statusCode, hashedSecret string) string {
	return upperMD5(merchantID + orderID + amount + currency + statusCode + hashedSecret)
}

// FormatAmount renders amount with exactly two decimals and no grouping separators.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func upperMD5(value string) string {
	sum := md5.Sum([]byte(value))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func baseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%q must be absolute", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
