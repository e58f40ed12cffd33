package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/wneessen/go-mail"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

// Sender delivers one rendered mail.
type Sender interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// SMTPSender sends through an SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// message builds the MIME message; header values are encoded by go-mail.
func (s *SMTPSender) message(to []string, subject, html string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return nil, errors.Wrap(err, "mail from")
	}
	if err := m.To(to...); err != nil {
		return nil, errors.Wrap(err, "mail to")
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, html)
	return m, nil
}

func (s *SMTPSender) client() (*mail.Client, error) {
	host, rawPort, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "smtp addr %q", s.Addr)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, errors.Wrapf(err, "smtp port %q", rawPort)
	}
	opts := []mail.Option{mail.WithPort(port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}
	return mail.NewClient(host, opts...)
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, html string) error {
	m, err := s.message(to, subject, html)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	return errors.Wrap(c.DialAndSendWithContext(ctx, m), "smtp send")
}

var adminMail = template.Must(template.New("admin").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>New Order Received!</h1>
  <h2>Order #{{.OrderNumber}}</h2>
  <h3>Customer Information</h3>
  <p><strong>Name:</strong> {{.CustomerName}}</p>
  <p><strong>Phone:</strong> {{.Phone}}</p>
  <p><strong>Payment Method:</strong> {{.Method}}</p>
  <p><strong>Payment Status:</strong> {{.PaymentState}}</p>
  <h3>Order Items</h3>
  <table style="width: 100%; border-collapse: collapse;">
    <thead><tr><th>Product</th><th>Qty</th><th>Price</th><th>Total</th></tr></thead>
    <tbody>
    {{- range .Items}}
      <tr><td>{{.Name}}</td><td>{{.Qty}}</td><td>M{{.UnitPrice.StringFixed 2}}</td><td>M{{.Subtotal.StringFixed 2}}</td></tr>
    {{- end}}
    </tbody>
  </table>
  <p><strong>Total Amount:</strong> M{{.Total.StringFixed 2}}</p>
  <p><strong>25% Deposit Required:</strong> M{{.Deposit.StringFixed 2}}</p>
  <p><strong>Balance on Delivery:</strong> M{{.BalanceDue.StringFixed 2}}</p>
  <p><strong>Action Required:</strong> Waiting for customer to send 25% deposit via {{.Method}}</p>
  <p>Order created: {{.PlacedAt.Format "2006-01-02 15:04 MST"}}</p>
  {{- if $.AdminURL}}
  <p><a href="{{$.AdminURL}}">View in Admin Panel</a></p>
  {{- end}}
</div>`))

// Mailer renders the admin notice for a placed order.
type Mailer struct {
	Sender   Sender
	To       []string
	AdminURL string
}

type mailView struct {
	orders.OrderPlacedPayload
	AdminURL string
}

func (m *Mailer) Render(p orders.OrderPlacedPayload) (subject, html string, err error) {
	var buf bytes.Buffer
	if err := adminMail.Execute(&buf, mailView{OrderPlacedPayload: p, AdminURL: m.AdminURL}); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("New Order #%s - %s", p.OrderNumber, headerSafe(p.CustomerName)), buf.String(), nil
}

// headerSafe folds control characters into spaces.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

func (m *Mailer) SendOrderPlaced(ctx context.Context, p orders.OrderPlacedPayload) error {
	subject, html, err := m.Render(p)
	if err != nil {
		return err
	}
	return m.Sender.Send(ctx, m.To, subject, html)
}
