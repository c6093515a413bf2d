package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock and order mutations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates a requested quantity exceeds the product stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates a referenced product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorOrderNotFound indicates the order document is missing.
	StockErrorOrderNotFound StockErrorCode = "stock_order_not_found"
	// StockErrorInvalidOrderState indicates the order status forbids the mutation.
	StockErrorInvalidOrderState StockErrorCode = "stock_invalid_order_state"
)

// StockError wraps stock-ledger failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ForProduct records the product the failure refers to.
func (e *StockError) ForProduct(productID string) *StockError {
	e.ProductID = productID
	return e
}
