package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/bloom-orders/internal/kafka"
	"github.com/ariefcatur/bloom-orders/internal/orders"
)

type fakePublisher struct {
	key, value []byte
	headers    []kafkago.Header
	err        error
}

func (p *fakePublisher) TryPublish(key, value []byte, headers ...kafkago.Header) error {
	p.key, p.value, p.headers = key, value, headers
	return p.err
}

type sentMail struct {
	to      []string
	subject string
	html    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (s *fakeSender) Send(_ context.Context, to []string, subject, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{to: to, subject: subject, html: html})
	return s.err
}

type memDedup struct {
	seen map[string]bool
	err  error
}

func (d *memDedup) FirstSeen(_ context.Context, service, eventID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	k := service + ":" + eventID
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleOrder(t *testing.T) (*orders.Order, []orders.LineDetail) {
	t.Helper()
	items := []orders.LineItem{
		{ProductID: "a", Qty: 2, UnitPrice: decimal.NewFromInt(50)},
		{ProductID: "b", Qty: 1, UnitPrice: decimal.NewFromInt(100)},
	}
	o, err := orders.NewOrder("4821", "Naledi <script>", "+26657770000", orders.MethodMPESA, items,
		decimal.NewFromInt(200), time.Date(2025, 2, 14, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	details := []orders.LineDetail{
		{ProductID: "a", Name: "Paper Sunflower", Qty: 2, UnitPrice: decimal.NewFromInt(50), Subtotal: decimal.NewFromInt(100)},
		{ProductID: "b", Name: "Paper Rose Bouquet", Qty: 1, UnitPrice: decimal.NewFromInt(100), Subtotal: decimal.NewFromInt(100)},
	}
	return o, details
}

func TestKafkaNotifier_PublishesEnvelope(t *testing.T) {
	o, details := sampleOrder(t)
	pub := &fakePublisher{}
	n := &KafkaNotifier{Producer: pub, Service: "bloom-orders"}

	require.NoError(t, n.NotifyNewOrder(context.Background(), o, details))
	assert.Equal(t, "4821", string(pub.key))

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(pub.value, &env))
	assert.Equal(t, orders.EventOrderPlaced, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "bloom-orders", env.Producer)
	assert.Equal(t, "4821", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "4821", p.OrderNumber)
	require.Len(t, p.Items, 2)
	assert.True(t, p.Deposit.Equal(decimal.NewFromInt(50)))

	var eventType string
	for _, h := range pub.headers {
		if h.Key == "x-event-type" {
			eventType = string(h.Value)
		}
	}
	assert.Equal(t, orders.EventOrderPlaced, eventType)
}

func TestKafkaNotifier_ReportsFullInbox(t *testing.T) {
	o, details := sampleOrder(t)
	n := &KafkaNotifier{Producer: &fakePublisher{err: kafkax.ErrInboxFull}, Service: "bloom-orders"}
	assert.ErrorIs(t, n.NotifyNewOrder(context.Background(), o, details), kafkax.ErrInboxFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.NotifyNewOrder(ctx, o, details), context.Canceled)
}

func TestMailer_Render(t *testing.T) {
	o, details := sampleOrder(t)
	m := &Mailer{AdminURL: "https://admin.example/orders"}

	subject, html, err := m.Render(orders.NewOrderPlacedPayload(o, details))
	require.NoError(t, err)
	assert.Equal(t, "New Order #4821 - Naledi <script>", subject)
	assert.Contains(t, html, "Naledi &lt;script&gt;")
	assert.Contains(t, html, "<td>Paper Sunflower</td><td>2</td><td>M50.00</td><td>M100.00</td>")
	assert.Contains(t, html, "M200.00")
	assert.Contains(t, html, "<strong>25% Deposit Required:</strong> M50.00")
	assert.Contains(t, html, "<strong>Balance on Delivery:</strong> M150.00")
	assert.Contains(t, html, "via MPESA")
	assert.Contains(t, html, `href="https://admin.example/orders"`)
}

func TestMailer_SubjectCannotCarryHeaders(t *testing.T) {
	o, details := sampleOrder(t)
	p := orders.NewOrderPlacedPayload(o, details)
	p.CustomerName = "Eve\r\nBcc: victim@evil.test"

	subject, _, err := (&Mailer{}).Render(p)
	require.NoError(t, err)
	assert.NotContains(t, subject, "\r")
	assert.NotContains(t, subject, "\n")

	// the sender encodes whatever subject it is handed
	s := &SMTPSender{From: "orders@bloom.local"}
	msg, err := s.message([]string{"owner@bloom.local"}, "New Order #1234 - Eve\r\nBcc: victim@evil.test", "<p>hi</p>")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.NotRegexp(t, regexp.MustCompile(`(?mi)^Bcc:`), raw)
	assert.Len(t, regexp.MustCompile(`(?m)^Subject:`).FindAllString(raw, -1), 1)
}

func TestSMTPSender_RejectsBadAddresses(t *testing.T) {
	_, err := (&SMTPSender{From: "not an address"}).message([]string{"owner@bloom.local"}, "s", "")
	assert.Error(t, err)

	_, err = (&SMTPSender{Addr: "no-port"}).client()
	assert.Error(t, err)
}

func envelopeMessage(t *testing.T, o *orders.Order, details []orders.LineDetail) kafkago.Message {
	t.Helper()
	ev, err := orders.NewEnvelope(orders.EventOrderPlaced, "bloom-orders", o.Number, orders.NewOrderPlacedPayload(o, details))
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(o.Number), Value: kafkax.MustMarshal(ev)}
}

func TestHandleOrderPlaced(t *testing.T) {
	o, details := sampleOrder(t)
	sender := &fakeSender{}
	svc := &Service{
		Mailer:      &Mailer{Sender: sender, To: []string{"owner@bloom.local"}},
		Dedup:       &memDedup{seen: map[string]bool{}},
		ServiceName: "bloom-notifier",
		Log:         quiet(),
	}
	msg := envelopeMessage(t, o, details)

	require.NoError(t, svc.HandleOrderPlaced(context.Background(), msg))
	require.NoError(t, svc.HandleOrderPlaced(context.Background(), msg))

	require.Len(t, sender.sent, 1, "redelivered event must not mail twice")
	assert.Equal(t, []string{"owner@bloom.local"}, sender.sent[0].to)
	assert.Equal(t, "New Order #4821 - Naledi <script>", sender.sent[0].subject)
}

func TestHandleOrderPlaced_DropsWhatItCannotUse(t *testing.T) {
	sender := &fakeSender{}
	svc := &Service{Mailer: &Mailer{Sender: sender}, Log: quiet()}

	require.NoError(t, svc.HandleOrderPlaced(context.Background(), kafkago.Message{Value: []byte("not json")}))

	other, err := orders.NewEnvelope("OrderShipped", "x", "1", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, svc.HandleOrderPlaced(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(other)}))

	assert.Empty(t, sender.sent)
}

func TestHandleOrderPlaced_MailFailureIsNotRetried(t *testing.T) {
	o, details := sampleOrder(t)
	sender := &fakeSender{err: errors.New("535 auth failed")}
	svc := &Service{
		Mailer: &Mailer{Sender: sender},
		Dedup:  &memDedup{err: errors.New("redis down")},
		Log:    quiet(),
	}
	require.NoError(t, svc.HandleOrderPlaced(context.Background(), envelopeMessage(t, o, details)))
	assert.Len(t, sender.sent, 1)
}

func TestLogNotifier(t *testing.T) {
	o, details := sampleOrder(t)
	assert.NoError(t, (&LogNotifier{Log: quiet()}).NotifyNewOrder(context.Background(), o, details))
}
