// Package notify delivers best-effort order notifications to members who
// linked an external messaging account.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
)

const defaultTimeout = 5 * time.Second

// Channel delivers a text message on behalf of the holder of token.
type Channel interface {
	Send(ctx context.Context, token, text string) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Timeout bounds a single delivery attempt. Defaults to 5s.
	Timeout       time.Duration
	MeterProvider metric.MeterProvider
}

// Dispatcher sends order notifications in the background. Delivery is
// attempted once; failures are logged and counted, never returned.
type Dispatcher struct {
	channel  Channel
	timeout  time.Duration
	printer  *message.Printer
	failures metric.Int64Counter
	wg       sync.WaitGroup
}

var _ order.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. A nil channel disables delivery.
func NewDispatcher(ch Channel, opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}

	failures, err := opts.MeterProvider.Meter("github.com/xenking/gift-orders/internal/notify").
		Int64Counter("gift.notify.failures",
			metric.WithDescription("Order notifications that could not be delivered"),
		)
	if err != nil {
		return nil, errors.Wrap(err, "create failures counter")
	}

	return &Dispatcher{
		channel:  ch,
		timeout:  opts.Timeout,
		printer:  message.NewPrinter(language.English),
		failures: failures,
	}, nil
}

// NotifyBestEffort schedules a notification for o. It returns immediately;
// members without a linked token are skipped.
func (d *Dispatcher) NotifyBestEffort(ctx context.Context, m member.Member, o order.Order, opt catalog.Option) {
	if d.channel == nil || !m.HasNotifyToken() {
		return
	}

	text := d.Compose(o, opt)
	token := m.NotifyToken

	// Keep logger and trace from the request but outlive its cancellation.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, o.ID, token, text)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, orderID int64, token, text string) {
	lg := zctx.From(ctx).With(zap.Int64("order_id", orderID))
	defer func() {
		if rec := recover(); rec != nil {
			d.failures.Add(ctx, 1)
			lg.Error("Notification panic recovered", zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.channel.Send(ctx, token, text); err != nil {
		d.failures.Add(ctx, 1)
		lg.Warn("Order notification failed", zap.Error(err))
		return
	}
	lg.Debug("Order notification sent")
}

// Wait blocks until all scheduled notifications have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Compose renders the notification text for an order.
func (d *Dispatcher) Compose(o order.Order, opt catalog.Option) string {
	var b strings.Builder
	d.printer.Fprintf(&b, "[Gift order] %s - %s x%d\n", opt.Product.Name, opt.Name, o.Quantity)
	d.printer.Fprintf(&b, "Total: %d points", o.Charged.IntPart())
	if msg := strings.TrimSpace(o.Message); msg != "" {
		b.WriteString("\nMessage: ")
		b.WriteString(msg)
	}
	return b.String()
}
