package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"chronicle/core"
)

// EmailTransport sends HTML mail over SMTP.
// Config: smtp_host, smtp_port (default 587), smtp_username, smtp_password,
// from, to (address or list).
type EmailTransport struct{}

// Send implements Transport. The session upgrades to STARTTLS when the server
// offers it, and net/smtp refuses PLAIN auth over an unencrypted remote
// connection. Cancelling ctx closes the connection and aborts the session.
func (t *EmailTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	host := configText(dest, "smtp_host")
	from := configText(dest, "from")
	to := dest.ConfigStrings("to")
	if host == "" || from == "" || len(to) == 0 {
		return fmt.Errorf("%w: email requires smtp_host, from and to", ErrMissingConfig)
	}
	port := configText(dest, "smtp_port")
	if port == "" {
		port = "587"
	}

	body, err := n.HTML()
	if err != nil {
		return err
	}
	message := buildMessage(from, to, n.Title(), body)

	var auth smtp.Auth
	if username := configText(dest, "smtp_username"); username != "" {
		auth = smtp.PlainAuth("", username, configText(dest, "smtp_password"), host)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := sendSMTP(conn, host, auth, from, to, message); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("failed to send email: %w", ctxErr)
		}
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// sendSMTP runs one mail transaction over conn and always closes it
func sendSMTP(conn net.Conn, host string, auth smtp.Auth, from string, to []string, message []byte) error {
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return []byte(b.String())
}

// sanitizeHeader strips line breaks so rule names cannot inject headers
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
