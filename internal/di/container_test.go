package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/platform/config"
	"github.com/solarshop/api/internal/repositories"
	"github.com/solarshop/api/internal/repositories/memory"
	"github.com/solarshop/api/internal/services"
)

func testGateway(t *testing.T) *payments.PayHere {
	t.Helper()
	gateway, err := payments.NewPayHere(payments.PayHereConfig{
		MerchantID:     "1211149",
		MerchantSecret: "s3cr3t",
		Sandbox:        true,
		CheckoutURL:    "https://sandbox.payhere.lk/pay/checkout",
		FrontendURL:    "https://shop.example.lk",
		BackendURL:     "https://api.example.lk",
	})
	require.NoError(t, err)
	return gateway
}

func testConfig() config.Config {
	return config.Config{
		PayHere:  config.PayHereConfig{Currency: "LKR"},
		URLs:     config.URLConfig{Frontend: "https://shop.example.lk", Backend: "https://api.example.lk"},
		Security: config.SecurityConfig{Environment: "test"},
	}
}

func TestNewContainerValidatesInputs(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(), nil, Infrastructure{Gateway: testGateway(t)})
	require.Error(t, err)

	_, err = NewContainer(context.Background(), testConfig(), memory.NewStore().Registry(nil), Infrastructure{})
	require.Error(t, err)
}

func TestNewContainerWithoutHealthSkipsSystemService(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), memory.NewStore().Registry(nil), Infrastructure{Gateway: testGateway(t)})
	require.NoError(t, err)

	assert.NotNil(t, container.Services.Orders)
	assert.NotNil(t, container.Services.Payments)
	assert.Nil(t, container.Services.System)
	assert.NoError(t, container.Close(context.Background()))
}

func TestNewContainerBuildsSystemService(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	require.NoError(t, err)

	container, err := NewContainer(context.Background(), testConfig(), memory.NewStore().Registry(health), Infrastructure{
		Gateway: testGateway(t),
		Clock:   func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NotNil(t, container.Services.System)

	report, err := container.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "test", report.Environment)
}

func TestContainerPlacesOrderAgainstMemoryStore(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.LoadSeedFile("../repositories/memory/testdata/seed.yaml"))

	container, err := NewContainer(context.Background(), testConfig(), store.Registry(nil), Infrastructure{Gateway: testGateway(t)})
	require.NoError(t, err)

	placed, err := container.Services.Orders.PlaceOrder(context.Background(), services.PlaceOrderCommand{
		ClientID: "user-1",
		Lines:    []services.OrderLineInput{{ProductID: "panel-450", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(placed.Order.ID, "ord_"))
	assert.Equal(t, "201.00", placed.Order.TotalPrice.StringFixed(2))
	assert.Equal(t, "1211149", placed.Payment.MerchantID)
	assert.Equal(t, placed.Order.ID, placed.Payment.OrderID)
	assert.Equal(t, 1, store.OrderCount())

	product, ok := store.Product("panel-450")
	require.True(t, ok)
	assert.Equal(t, 8, product.Stock)
}
