package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/platform/observability"
	"github.com/solarshop/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultOrderCurrency       = "LKR"
	defaultStrandedGracePeriod = 30 * time.Minute
	defaultStrandedSweepBatch  = 50
	maxStrandedSweepBatch      = 500
	maxOrderNotesLength        = 1000
	strandedCancelReason       = "payment_initiation_failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderClientNotFound indicates the ordering user does not exist.
	ErrOrderClientNotFound = errors.New("order: client not found")
	// ErrOrderProductNotFound indicates at least one requested product does not exist.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderOutOfStock indicates a requested quantity exceeds the available stock.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderNoBranch indicates no branch lies within the search radius of the client.
	ErrOrderNoBranch = errors.New("order: no branch found")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order status forbids the requested operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrPaymentInitiation indicates the order committed but no checkout payload could be built.
	ErrPaymentInitiation = errors.New("order: payment initiation failed")
)

// OutOfStockError names the product whose stock could not cover the requested quantity.
type OutOfStockError struct {
	ProductID   string
	ProductName string
}

func (e *OutOfStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("Product %s out of stock", name)
}

// Is matches ErrOrderOutOfStock.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOrderOutOfStock
}

// checkoutInitiator abstracts payments.PayHere for easier testing.
type checkoutInitiator interface {
	Initiate(req payments.InitiationRequest) (PaymentInitiation, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Users               repositories.UserRepository
	Products            repositories.ProductRepository
	Branches            repositories.BranchRepository
	Orders              repositories.OrderRepository
	Gateway             checkoutInitiator
	Mailer              OrderMailer
	Events              OrderEventPublisher
	Metrics             *observability.PaymentMetrics
	FrontendURL         string
	Currency            string
	BranchSearchRadius  float64
	StrandedGracePeriod time.Duration
	StrandedSweepBatch  int
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	users         repositories.UserRepository
	products      repositories.ProductRepository
	orders        repositories.OrderRepository
	locator       *BranchLocator
	gateway       checkoutInitiator
	notifier      orderNotifier
	emitter       eventEmitter
	metrics       *observability.PaymentMetrics
	notesPolicy   *bluemonday.Policy
	currency      string
	radius        float64
	strandedGrace time.Duration
	sweepBatch    int
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	locator, err := NewBranchLocator(deps.Branches)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}
	radius := deps.BranchSearchRadius
	if radius <= 0 {
		radius = DefaultBranchSearchRadius
	}
	grace := deps.StrandedGracePeriod
	if grace <= 0 {
		grace = defaultStrandedGracePeriod
	}
	batch := deps.StrandedSweepBatch
	if batch <= 0 {
		batch = defaultStrandedSweepBatch
	}

	return &orderService{
		users:    deps.Users,
		products: deps.Products,
		orders:   deps.Orders,
		locator:  locator,
		gateway:  deps.Gateway,
		notifier: orderNotifier{
			users:       deps.Users,
			branches:    deps.Branches,
			products:    deps.Products,
			mailer:      deps.Mailer,
			frontendURL: deps.FrontendURL,
		},
		emitter:       eventEmitter{events: deps.Events, logger: logger},
		metrics:       deps.Metrics,
		notesPolicy:   bluemonday.StrictPolicy(),
		currency:      currency,
		radius:        radius,
		strandedGrace: grace,
		sweepBatch:    batch,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	clientID := strings.TrimSpace(cmd.ClientID)
	if clientID == "" {
		return PlacedOrder{}, fmt.Errorf("%w: client id is required", ErrOrderInvalidInput)
	}
	lines, err := normaliseOrderLines(cmd.Lines)
	if err != nil {
		return PlacedOrder{}, err
	}
	notes, err := s.sanitiseNotes(cmd.Notes)
	if err != nil {
		return PlacedOrder{}, err
	}

	client, err := s.users.FindByID(ctx, clientID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderClientNotFound, clientID)
		}
		return PlacedOrder{}, s.mapRepositoryError(err)
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	found, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return PlacedOrder{}, s.mapRepositoryError(err)
	}
	catalog := make(map[string]Product, len(found))
	for _, product := range found {
		catalog[product.ID] = product
	}
	if len(catalog) != len(ids) {
		return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, strings.Join(missingIDs(ids, catalog), ","))
	}
	for _, line := range lines {
		if err := checkStock(catalog[line.ProductID], line.Quantity); err != nil {
			return PlacedOrder{}, err
		}
	}

	if client.Location == nil {
		return PlacedOrder{}, fmt.Errorf("%w: client %s has no location", ErrOrderNoBranch, clientID)
	}
	branch, distance, ok, err := s.locator.Nearest(ctx, *client.Location, s.radius)
	if err != nil {
		return PlacedOrder{}, s.mapRepositoryError(err)
	}
	if !ok {
		return PlacedOrder{}, fmt.Errorf("%w: within %.0fm of client %s", ErrOrderNoBranch, s.radius, clientID)
	}

	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		quantities[line.ProductID] = line.Quantity
	}
	now := s.now()
	orderID := s.nextOrderID()
	order, err := s.orders.PlaceOrder(ctx, repositories.PlaceOrderRequest{
		Quantities: quantities,
		Compose: func(current map[string]domain.Product) (domain.Order, error) {
			return s.composeOrder(composeInput{
				orderID:       orderID,
				clientID:      clientID,
				branchID:      branch.ID,
				lines:         lines,
				products:      current,
				notes:         notes,
				deliveryDate:  cmd.DeliveryDate,
				paymentMethod: strings.TrimSpace(cmd.PaymentMethod),
				now:           now,
			})
		},
	})
	if err != nil {
		return PlacedOrder{}, s.mapPlaceError(err, catalog)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"order":    order.ID,
		"client":   order.ClientID,
		"branch":   order.BranchID,
		"distance": distance,
		"total":    order.TotalPrice.StringFixed(2),
	})
	s.emitter.publish(ctx, newOrderEvent(OrderEventCreated, order, now))

	payment, err := s.initiatePayment(order, client)
	if err != nil {
		order = s.strand(ctx, order, err)
		s.metrics.OrderPlaced(ctx, string(order.PaymentState))
		return PlacedOrder{Order: order}, fmt.Errorf("%w: order %s: %v", ErrPaymentInitiation, order.ID, err)
	}
	s.metrics.OrderPlaced(ctx, string(order.PaymentState))
	return PlacedOrder{Order: order, Payment: payment}, nil
}

func (s *orderService) ReissuePayment(ctx context.Context, cmd ReissuePaymentCommand) (PlacedOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	clientID := strings.TrimSpace(cmd.ClientID)
	if orderID == "" || clientID == "" {
		return PlacedOrder{}, fmt.Errorf("%w: order id and client id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PlacedOrder{}, s.mapRepositoryError(err)
	}
	if order.ClientID != clientID {
		return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPending || order.IsPaid {
		return PlacedOrder{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, orderID, order.Status)
	}

	client, err := s.users.FindByID(ctx, clientID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PlacedOrder{}, fmt.Errorf("%w: %s", ErrOrderClientNotFound, clientID)
		}
		return PlacedOrder{}, s.mapRepositoryError(err)
	}

	payment, err := s.initiatePayment(order, client)
	if err != nil {
		if order.PaymentState != domain.PaymentStateStranded {
			order = s.strand(ctx, order, err)
		}
		return PlacedOrder{Order: order}, fmt.Errorf("%w: order %s: %v", ErrPaymentInitiation, order.ID, err)
	}

	if order.PaymentState == domain.PaymentStateStranded {
		now := s.now()
		if err := s.orders.SetPaymentState(ctx, order.ID, domain.PaymentStateAwaiting, now); err != nil {
			return PlacedOrder{}, s.mapRepositoryError(err)
		}
		order.PaymentState = domain.PaymentStateAwaiting
		order.UpdatedAt = now
		s.logger(ctx, "order.payment.recovered", map[string]any{"order": order.ID})
	}
	return PlacedOrder{Order: order, Payment: payment}, nil
}

func (s *orderService) ReleaseStranded(ctx context.Context, cmd ReleaseStrandedCommand) (ReleaseStrandedResult, error) {
	grace := cmd.OlderThan
	if grace <= 0 {
		grace = s.strandedGrace
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = s.sweepBatch
	}
	if limit > maxStrandedSweepBatch {
		limit = maxStrandedSweepBatch
	}

	now := s.now()
	stranded, err := s.orders.ListByPaymentState(ctx, domain.PaymentStateStranded, now.Add(-grace), limit)
	if err != nil {
		return ReleaseStrandedResult{}, s.mapRepositoryError(err)
	}

	result := ReleaseStrandedResult{Released: make([]string, 0, len(stranded))}
	for _, candidate := range stranded {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cancelled, err := s.orders.Cancel(ctx, repositories.CancelOrderRequest{
			OrderID:     candidate.ID,
			Reason:      strandedCancelReason,
			CancelledAt: now,
			Guard: func(current domain.Order) error {
				if current.PaymentState != domain.PaymentStateStranded {
					return fmt.Errorf("%w: order %s is no longer stranded", ErrOrderInvalidState, current.ID)
				}
				return nil
			},
		})
		if err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[candidate.ID] = err.Error()
			s.logger(ctx, "order.stranded.release.failed", map[string]any{
				"order": candidate.ID,
				"error": err.Error(),
			})
			continue
		}

		result.Released = append(result.Released, cancelled.ID)
		s.emitter.publish(ctx, newOrderEvent(OrderEventCancelled, cancelled, now))
		if err := s.notifier.orderCancelled(ctx, cancelled); err != nil {
			s.logger(ctx, "order.notification.failed", map[string]any{
				"order":    cancelled.ID,
				"template": TemplateOrderCancellation,
				"error":    err.Error(),
			})
		}
	}

	s.logger(ctx, "order.stranded.released", map[string]any{
		"released": len(result.Released),
		"failed":   len(result.Failed),
	})
	return result, nil
}

type composeInput struct {
	orderID       string
	clientID      string
	branchID      string
	lines         []OrderLineInput
	products      map[string]domain.Product
	notes         string
	deliveryDate  *time.Time
	paymentMethod string
	now           time.Time
}

// composeOrder prices every line from the transactional product snapshot.
func (s *orderService) composeOrder(in composeInput) (domain.Order, error) {
	lines := make([]domain.OrderLine, 0, len(in.lines))
	for _, line := range in.lines {
		product, ok := in.products[line.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, line.ProductID)
		}
		if err := checkStock(product, line.Quantity); err != nil {
			return domain.Order{}, err
		}
		if product.Price.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: product %s has a negative price", ErrOrderInvalidInput, product.ID)
		}
		lines = append(lines, domain.OrderLine{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
	}

	var delivery *time.Time
	if in.deliveryDate != nil && !in.deliveryDate.IsZero() {
		d := in.deliveryDate.UTC()
		delivery = &d
	}

	return domain.Order{
		ID:            in.orderID,
		ClientID:      in.clientID,
		Lines:         lines,
		TotalPrice:    domain.LinesTotal(lines),
		Currency:      s.currency,
		BranchID:      in.branchID,
		Status:        domain.OrderStatusPending,
		PaymentState:  domain.PaymentStateAwaiting,
		PaymentMethod: in.paymentMethod,
		IsPaid:        false,
		DeliveryDate:  delivery,
		Notes:         in.notes,
		CreatedAt:     in.now,
		UpdatedAt:     in.now,
	}, nil
}

func (s *orderService) initiatePayment(order Order, client User) (PaymentInitiation, error) {
	return s.gateway.Initiate(payments.InitiationRequest{
		OrderID:  order.ID,
		Items:    order.ProductIDs(),
		Amount:   order.TotalPrice,
		Currency: order.Currency,
		Customer: payments.Customer{
			FirstName: client.FirstName,
			LastName:  client.LastName,
			Email:     client.Email,
			Phone:     client.PhoneNumber,
			Address:   client.Address,
			City:      client.City,
			Country:   client.Country,
		},
	})
}

// strand marks the committed order as lacking a checkout payload. The write ignores ctx cancellation.
func (s *orderService) strand(ctx context.Context, order Order, cause error) Order {
	now := s.now()
	s.logger(ctx, "order.payment.initiation.failed", map[string]any{
		"order":    order.ID,
		"error":    cause.Error(),
		"severity": "error",
	})
	if err := s.orders.SetPaymentState(context.WithoutCancel(ctx), order.ID, domain.PaymentStateStranded, now); err != nil {
		s.logger(ctx, "order.payment.strand.failed", map[string]any{
			"order":    order.ID,
			"error":    err.Error(),
			"severity": "error",
		})
	}
	order.PaymentState = domain.PaymentStateStranded
	order.UpdatedAt = now
	s.emitter.publish(ctx, newOrderEvent(OrderEventPaymentStranded, order, now))
	return order
}

func (s *orderService) mapPlaceError(err error, catalog map[string]Product) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &OutOfStockError{ProductID: stockErr.ProductID, ProductName: catalog[stockErr.ProductID].Name}
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrOrderProductNotFound, stockErr.ProductID)
		}
	}
	for _, sentinel := range []error{ErrOrderOutOfStock, ErrOrderProductNotFound, ErrOrderInvalidInput} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

func (s *orderService) sanitiseNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", nil
	}
	clean, ok := plainText(s.notesPolicy, notes)
	if !ok {
		return "", fmt.Errorf("%w: notes contain nested markup", ErrOrderInvalidInput)
	}
	if utf8.RuneCountInString(clean) > maxOrderNotesLength {
		return "", fmt.Errorf("%w: notes exceed %d characters", ErrOrderInvalidInput, maxOrderNotesLength)
	}
	return clean, nil
}

// maxSanitisePasses bounds how many layers of entity encoding plainText peels off.
const maxSanitisePasses = 4

// plainText strips markup with policy and decodes entities, repeating until a pass changes
// nothing so entity-encoded tags cannot decode into live markup. It reports false when the
// input is still changing after maxSanitisePasses.
func plainText(policy *bluemonday.Policy, in string) (string, bool) {
	current := strings.TrimSpace(in)
	for range maxSanitisePasses {
		next := strings.TrimSpace(html.UnescapeString(policy.Sanitize(current)))
		if next == current {
			return current, true
		}
		current = next
	}
	return "", false
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// normaliseOrderLines validates quantities and merges repeated products, keeping first-seen order.
func normaliseOrderLines(lines []OrderLineInput) ([]OrderLineInput, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one product is required", ErrOrderInvalidInput)
	}
	merged := make([]OrderLineInput, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: products[%d].product is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: products[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, OrderLineInput{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

func checkStock(product Product, quantity int) error {
	if !product.IsAvailable || product.Stock < quantity {
		return &OutOfStockError{ProductID: product.ID, ProductName: product.Name}
	}
	return nil
}

func missingIDs(ids []string, found map[string]Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorOrderNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.StockErrorInvalidOrderState:
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
