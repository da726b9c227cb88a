// Package order implements order fulfillment: reserving stock, charging
// points and recording the order as a single unit of work.
package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/points"
	"github.com/xenking/gift-orders/internal/domain/stock"
)

const instrumentationName = "github.com/xenking/gift-orders/internal/domain/order"

// PlaceOrderRequest holds the input for placing an order. MemberID is the
// identity resolved by authentication.
type PlaceOrderRequest struct {
	MemberID int64
	OptionID int64
	Quantity int
	Message  string
}

// ServiceOptions configures optional Service dependencies.
type ServiceOptions struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *ServiceOptions) setDefaults() {
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// Service encapsulates order fulfillment business logic.
type Service struct {
	uow      UnitOfWork
	orders   Repository
	notifier Notifier

	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(uow UnitOfWork, orders Repository, notifier Notifier, opts ServiceOptions) (*Service, error) {
	opts.setDefaults()
	meter := opts.MeterProvider.Meter(instrumentationName)

	placed, err := meter.Int64Counter("gift.orders.placed",
		metric.WithDescription("Orders committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	rejected, err := meter.Int64Counter("gift.orders.rejected",
		metric.WithDescription("Orders rejected before commit, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create rejected counter")
	}

	return &Service{
		uow:      uow,
		orders:   orders,
		notifier: notifier,
		tracer:   opts.TracerProvider.Tracer(instrumentationName),
		placed:   placed,
		rejected: rejected,
	}, nil
}

// PlaceOrder reserves stock, charges the member at the option's current
// product price and records the order in one unit of work. The notifier is
// invoked only after the unit of work has committed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.Int64("gift.member.id", req.MemberID),
		attribute.Int64("gift.option.id", req.OptionID),
		attribute.Int("gift.order.quantity", req.Quantity),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", RejectReason(rerr))))
		}
		span.End()
	}()

	if req.Quantity <= 0 {
		return nil, stock.ErrInvalidQuantity
	}

	var (
		placed Order
		buyer  member.Member
		option catalog.Option
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		reserved, err := stock.Reserve(ctx, tx, req.OptionID, req.Quantity)
		if err != nil {
			return err
		}
		span.AddEvent("stock reserved")

		// Price comes from the same snapshot the stock was reserved on.
		amount := points.Price(reserved.Product.Price, req.Quantity)

		m, err := tx.LockMember(ctx, req.MemberID)
		if err != nil {
			return errors.Wrap(err, "load member")
		}
		charged, err := points.Charge(m, amount)
		if err != nil {
			return err
		}
		span.AddEvent("points charged")

		// Once writing starts the unit of work is not cancelled.
		ctx = context.WithoutCancel(ctx)

		if err := tx.SaveOption(ctx, reserved); err != nil {
			return errors.Wrap(err, "save option")
		}
		if err := tx.SaveMember(ctx, charged); err != nil {
			return errors.Wrap(err, "save member")
		}

		o := Order{
			OptionID: reserved.ID,
			MemberID: charged.ID,
			Quantity: req.Quantity,
			Message:  req.Message,
			Charged:  amount,
		}
		if err := tx.CreateOrder(ctx, &o); err != nil {
			return errors.Wrap(err, "create order")
		}

		placed, buyer, option = o, charged, reserved
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("gift.order.id", placed.ID))
	s.placed.Add(ctx, 1)

	s.notifier.NotifyBestEffort(ctx, buyer, placed, option)

	return &placed, nil
}

// ListOrders returns one page of the member's own orders.
func (s *Service) ListOrders(ctx context.Context, memberID int64, page Page) (*List, error) {
	list, err := s.orders.ListByMember(ctx, memberID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// RejectReason classifies a PlaceOrder error for metrics and logs.
func RejectReason(err error) string {
	var (
		nfErr *catalog.OptionNotFoundError
		isErr *stock.InsufficientStockError
		ipErr *points.InsufficientPointsError
	)
	switch {
	case errors.Is(err, stock.ErrInvalidQuantity), errors.Is(err, points.ErrInvalidAmount):
		return "invalid_argument"
	case errors.As(err, &nfErr):
		return "not_found"
	case errors.As(err, &isErr):
		return "insufficient_stock"
	case errors.As(err, &ipErr):
		return "insufficient_points"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
