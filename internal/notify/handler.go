package notify

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/bloom-orders/internal/kafka"
	"github.com/ariefcatur/bloom-orders/internal/orders"
)

var tracer = otel.Tracer("github.com/ariefcatur/bloom-orders/internal/notify")

type deduper interface {
	FirstSeen(ctx context.Context, service, eventID string) (bool, error)
}

// Service consumes order.placed and mails the shop admin.
type Service struct {
	Mailer      *Mailer
	Dedup       deduper
	ServiceName string
	Log         logrus.FieldLogger
}

// HandleOrderPlaced is installed as the consumer handler. Decode failures
// are dropped so a poison message cannot stall the partition.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.WithError(err).WithField("offset", m.Offset).Warn("dropping undecodable message")
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	if s.Dedup != nil {
		fresh, err := s.Dedup.FirstSeen(ctx, s.ServiceName, env.EventID)
		if err != nil {
			s.Log.WithError(err).Warn("dedup lookup failed, sending anyway")
		} else if !fresh {
			return nil
		}
	}

	ctx, span := tracer.Start(kafkax.ExtractTrace(ctx, m), "notify.order_placed",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("event.id", env.EventID)))
	defer span.End()

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.WithError(err).WithField("event_id", env.EventID).Warn("dropping bad payload")
		return nil
	}

	log := s.Log.WithFields(logrus.Fields{"order_number": p.OrderNumber, "event_id": env.EventID})
	if err := s.Mailer.SendOrderPlaced(ctx, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("failed to send admin notification email")
		return nil
	}
	log.Info("admin notification email sent")
	return nil
}
