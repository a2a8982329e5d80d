// Package mailer sends transactional email over SMTP. Bodies are rendered
// with html/template so customer-controlled strings (names, titles, address
// lines) are escaped before they reach an HTML mail client.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const storeName = "The Bookshop"

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`
<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Thanks for your purchase from ` + storeName + `!</p>
<p><strong>Order Summary:</strong><br>{{.Summary}}</p>
{{if .Amount}}<p><strong>Total:</strong> {{.Amount}}</p>{{end}}
{{if .Address}}<p><strong>Shipping to:</strong><br>
{{if .Address.Line1}}{{.Address.Line1}}<br>{{end}}
{{if .Address.Line2}}{{.Address.Line2}}<br>{{end}}
{{if .Address.City}}{{.Address.City}}, {{end}}{{if .Address.State}}{{.Address.State}} {{end}}{{if .Address.PostalCode}}{{.Address.PostalCode}}{{end}}
{{if .Address.Country}}<br>{{.Address.Country}}{{end}}</p>{{end}}
<p>Your order has been successfully placed.</p>
<p>Best,<br>The Team</p>
`))

var adminAlertTmpl = template.Must(template.New("adminAlert").Parse(`
<p>New order received.</p>
<p><strong>Customer:</strong> {{if .Name}}{{.Name}} {{end}}&lt;{{.Email}}&gt;<br>
<strong>Items:</strong> {{.Summary}}<br>
<strong>Session:</strong> {{.SessionID}}
{{if .Shipping}}<br><strong>Shipping:</strong> {{.Shipping}}{{end}}</p>
{{if .Address}}<p><strong>Ship to:</strong><br>
{{if .Address.Line1}}{{.Address.Line1}}<br>{{end}}
{{if .Address.Line2}}{{.Address.Line2}}<br>{{end}}
{{if .Address.City}}{{.Address.City}}, {{end}}{{if .Address.State}}{{.Address.State}} {{end}}{{if .Address.PostalCode}}{{.Address.PostalCode}}{{end}}
{{if .Address.Country}}<br>{{.Address.Country}}{{end}}</p>{{end}}
`))

var contactTmpl = template.Must(template.New("contact").Parse(`
<p>Contact form submission.</p>
<p><strong>From:</strong> {{.Name}} &lt;{{.Email}}&gt;</p>
<p>{{.Message}}</p>
`))

type Mailer struct {
	dialer     *gomail.Dialer
	from       string
	adminEmail string
	logger     *zap.Logger
}

func NewMailer(cfg *config.SMTPConfig, adminEmail string, logger *zap.Logger) *Mailer {
	return &Mailer{
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:       cfg.FromAddress(),
		adminEmail: adminEmail,
		logger:     logger,
	}
}

func (m *Mailer) SendCustomerConfirmation(email, name, summary string, amount int64, address *models.Address) error {
	body, err := render(confirmationTmpl, map[string]interface{}{
		"Name":    name,
		"Summary": summary,
		"Amount":  formatCents(amount),
		"Address": address,
	})
	if err != nil {
		return err
	}
	return m.send(email, "Your Order is Confirmed!", body)
}

func (m *Mailer) SendAdminAlert(customerEmail, name, summary, sessionID string, address *models.Address, shippingAmount int64) error {
	shipping := ""
	if shippingAmount > 0 {
		shipping = formatCents(shippingAmount)
	}
	body, err := render(adminAlertTmpl, map[string]interface{}{
		"Email":     customerEmail,
		"Name":      name,
		"Summary":   summary,
		"SessionID": sessionID,
		"Address":   address,
		"Shipping":  shipping,
	})
	if err != nil {
		return err
	}
	return m.send(m.adminEmail, "New Order Received", body)
}

func (m *Mailer) SendContactRelay(name, email, message string) error {
	body, err := render(contactTmpl, map[string]interface{}{
		"Name":    name,
		"Email":   email,
		"Message": message,
	})
	if err != nil {
		return err
	}
	return m.send(m.adminEmail, "Contact Form Submission", body)
}

func (m *Mailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, storeName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render mail template: %w", err)
	}
	return buf.String(), nil
}

func formatCents(amount int64) string {
	if amount <= 0 {
		return ""
	}
	return fmt.Sprintf("$%d.%02d", amount/100, amount%100)
}
