// internal/service/email/service.go
package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"
)

// Sender is what the helpers need from a mail transport.
type Sender interface {
	Send(to, subject, bodyHTML string) error
}

// EmailSender delivers mail over SMTP, either with implicit TLS (secure, usually
// port 465) or by upgrading a plain connection with STARTTLS (usually 587).
type EmailSender struct {
	host     string
	port     string
	username string
	password string
	fromName string
	secure   bool
	timeout  time.Duration
}

var ErrNotConfigured = errors.New("smtp host is not configured")

func NewEmailSender(host, port, user, pass, fromName string, secure bool) *EmailSender {
	return &EmailSender{
		host:     host,
		port:     port,
		username: user,
		password: pass,
		fromName: fromName,
		secure:   secure,
		timeout:  20 * time.Second,
	}
}

func (e *EmailSender) Send(to, subject, bodyHTML string) error {
	if e.host == "" {
		return ErrNotConfigured
	}

	msg, err := e.buildMessage(to, subject, bodyHTML, time.Now())
	if err != nil {
		return err
	}

	client, err := e.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if e.username != "" {
		if err := client.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(e.username); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

func (e *EmailSender) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(e.host, e.port)
	tlsConfig := &tls.Config{ServerName: e.host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: e.timeout}

	if e.secure {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("tls dial %s failed: %w", addr, err)
		}
		client, err := smtp.NewClient(conn, e.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp handshake failed: %w", err)
		}
		return client, nil
	}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake failed: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls failed: %w", err)
		}
	}
	return client, nil
}

func (e *EmailSender) buildMessage(to, subject, bodyHTML string, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	if err := layout.Execute(&body, struct {
		Content template.HTML
		Year    int
	}{template.HTML(bodyHTML), now.Year()}); err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", e.fromName), e.username)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", uuid.NewString(), e.host)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// Bodies built by Helper escape user input before they reach the layout.
var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8" />
	<title>AudioTricks</title>
	<style>
		body { font-family: Arial, sans-serif; background-color: #f6f8fa; padding: 30px; }
		.container { max-width: 600px; margin: auto; background: #fff; border-radius: 10px; overflow: hidden; }
		.header { background: #6d28d9; color: white; text-align: center; padding: 20px; font-size: 22px; font-weight: bold; }
		.body { padding: 25px; color: #333; line-height: 1.6; }
		.footer { background: #f1f1f1; color: #555; text-align: center; padding: 15px; font-size: 13px; }
		a.button { display: inline-block; background: #6d28d9; color: white; padding: 10px 20px; border-radius: 5px; text-decoration: none; }
	</style>
</head>
<body>
<div class="container">
	<div class="header">AudioTricks</div>
	<div class="body">{{.Content}}</div>
	<div class="footer"><p>&copy; {{.Year}} AudioTricks</p></div>
</div>
</body>
</html>
`))
