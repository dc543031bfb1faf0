// Package binanceclient implements ports.ExchangeGateway against the
// Binance spot API.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements ports.ExchangeGateway using the go-binance library.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance spot adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Public endpoints (ticker) still work; private calls will fail
		// with authentication errors.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty, only public endpoints will work")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{spotClient: client, logger: cfg.Logger}, nil
}

// handleError translates Binance API errors into the standardized
// ports sentinels.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1013, -1100, -1101, -1102, -1103, -1104, -1106, -1111, -1112, -1121: // Filter/parameter failures
			mappedErr = ports.ErrInvalidOrder
		case -2010: // New order rejected (includes insufficient balance on spot)
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrExchangeRejected
			}
		case -2011: // Cancel rejected: unknown order
			mappedErr = ports.ErrOrderNotFound
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// CreateOrder places a spot order. Limit orders are GTC.
func (c *Client) CreateOrder(ctx context.Context, symbol string, orderType domain.OrderType, side domain.OrderSide, quantity, price float64) (*ports.OrderAck, error) {
	op := "CreateOrder"

	svc := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(mapSide(side)).
		Quantity(formatFloat(quantity))

	switch orderType {
	case domain.Limit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(price))
	case domain.Market:
		svc = svc.Type(binance.OrderTypeMarket)
	default:
		return nil, fmt.Errorf("unsupported order type %q: %w", orderType, ports.ErrInvalidOrder)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	ackPrice, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || ackPrice <= 0 {
		ackPrice = price
	}
	executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)

	ack := &ports.OrderAck{
		ExchangeID:       resp.OrderID,
		Symbol:           resp.Symbol,
		Side:             side,
		Type:             orderType,
		Price:            ackPrice,
		Quantity:         quantity,
		ExecutedQuantity: executed,
		Status:           mapStatus(resp.Status),
		Timestamp:        time.UnixMilli(resp.TransactTime).UTC(),
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{
		"orderID": ack.ExchangeID,
		"symbol":  symbol,
		"side":    string(side),
		"status":  string(ack.Status),
	})
	return ack, nil
}

// FetchOrder re-queries the authoritative state of an order.
func (c *Client) FetchOrder(ctx context.Context, symbol string, exchangeID int64) (*ports.OrderAck, error) {
	op := "FetchOrder"
	order, err := c.spotClient.NewGetOrderService().Symbol(symbol).OrderID(exchangeID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.ackFromOrder(ctx, op, order)
}

// FetchOpenOrders lists all working orders for the symbol.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderAck, error) {
	op := "FetchOpenOrders"
	orders, err := c.spotClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	acks := make([]*ports.OrderAck, 0, len(orders))
	for _, order := range orders {
		ack, err := c.ackFromOrder(ctx, op, order)
		if err != nil {
			return nil, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func (c *Client) ackFromOrder(ctx context.Context, op string, order *binance.Order) (*ports.OrderAck, error) {
	price, err := strconv.ParseFloat(order.Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", order.Price, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	quantity, err := strconv.ParseFloat(order.OrigQuantity, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse quantity '%s': %w", order.OrigQuantity, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		ExchangeID:       order.OrderID,
		Symbol:           order.Symbol,
		Side:             domain.OrderSide(order.Side),
		Type:             domain.OrderType(order.Type),
		Price:            price,
		Quantity:         quantity,
		ExecutedQuantity: executed,
		Status:           mapStatus(order.Status),
		Timestamp:        time.UnixMilli(order.Time).UTC(),
	}, nil
}

// FetchBalance retrieves the live balance for one asset.
func (c *Client) FetchBalance(ctx context.Context, asset string) (*ports.Balance, error) {
	op := "FetchBalance"
	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, bal := range account.Balances {
		if bal.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse free balance '%s' for %s: %w", bal.Free, asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		locked, err := strconv.ParseFloat(bal.Locked, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse locked balance '%s' for %s: %w", bal.Locked, asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		return &ports.Balance{Asset: asset, Free: free, Locked: locked}, nil
	}
	// Binance omits assets with zero balance from some account views.
	return &ports.Balance{Asset: asset}, nil
}

// FetchTicker retrieves the last traded price for the symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	op := "FetchTicker"
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, exchangeID int64) error {
	op := "CancelOrder"
	_, err := c.spotClient.NewCancelOrderService().Symbol(symbol).OrderID(exchangeID).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"orderID": exchangeID})
	return nil
}

func mapSide(side domain.OrderSide) binance.SideType {
	if side == domain.Sell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// mapStatus folds the exchange's order states into the local lifecycle.
func mapStatus(status binance.OrderStatusType) domain.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return domain.OrderOpen
	case binance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected, binance.OrderStatusTypePendingCancel:
		return domain.OrderCanceled
	default:
		return domain.OrderError
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
