package notify

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/bloom-orders/internal/kafka"
	"github.com/ariefcatur/bloom-orders/internal/orders"
)

type publisher interface {
	TryPublish(key, value []byte, headers ...kafkago.Header) error
}

// KafkaNotifier publishes an OrderPlaced envelope for every committed order.
// The mail itself is sent by the notifier service consuming the topic.
type KafkaNotifier struct {
	Producer publisher
	Service  string
}

func (n *KafkaNotifier) NotifyNewOrder(ctx context.Context, o *orders.Order, details []orders.LineDetail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev, err := orders.NewEnvelope(orders.EventOrderPlaced, n.Service, o.Number, orders.NewOrderPlacedPayload(o, details))
	if err != nil {
		return err
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}
	headers := kafkax.InjectTrace(ctx, kafkax.EventHeaders(orders.EventOrderPlaced, ev.EventVersion))
	return n.Producer.TryPublish(orders.PartitionKey(o.Number), kafkax.MustMarshal(ev), headers...)
}

// LogNotifier only logs; used when no broker is configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n *LogNotifier) NotifyNewOrder(_ context.Context, o *orders.Order, details []orders.LineDetail) error {
	n.Log.WithFields(logrus.Fields{
		"order_number": o.Number,
		"customer":     o.CustomerName,
		"lines":        len(details),
		"total":        o.Total.StringFixed(2),
	}).Info("new order")
	return nil
}
