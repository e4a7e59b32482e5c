// Package provider implements internal/domain.Provider for the two
// providerKind variants the engine supports: smtp (username/password
// auth) and gmail (XOAUTH2 over the same SMTP transport). Both build
// the outgoing message with wneessen/go-mail and hand it to
// emersion/go-smtp for the wire conversation, which is where the
// SASL mechanism (PLAIN vs XOAUTH2) actually differs.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"

	gosasl "github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/wneessen/go-mail"

	"github.com/sendcore/engine/internal/domain"
)

// SMTPProvider sends mail through a username/password SMTP account. The
// engine builds a fresh instance through the Factory for each send and
// closes it afterwards; the connection is opened lazily and torn down by Close.
type SMTPProvider struct {
	cfg SMTPAccountConfig

	mu     sync.Mutex
	client *gosmtp.Client
}

// NewSMTPProvider builds a Provider for an smtp SenderAccount.
func NewSMTPProvider(cfg SMTPAccountConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

// Send builds msg with go-mail and delivers it over the account's SMTP
// connection, authenticating with PLAIN on first use.
func (p *SMTPProvider) Send(ctx context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := p.ensureClient(ctx)
	if err != nil {
		return err
	}

	raw, err := buildMessage(p.cfg.FromName, p.cfg.FromEmail, msg)
	if err != nil {
		return err
	}

	if err := sendRaw(client, p.cfg.FromEmail, msg, raw); err != nil {
		p.closeLocked()
		return err
	}
	return nil
}

// Verify dials and authenticates without sending, confirming the
// account's credentials are still valid.
func (p *SMTPProvider) Verify(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.ensureClient(ctx)
	return err
}

// Close tears down the SMTP connection if one is open. Idempotent.
func (p *SMTPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *SMTPProvider) closeLocked() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Quit()
	p.client = nil
	return err
}

func (p *SMTPProvider) ensureClient(ctx context.Context) (*gosmtp.Client, error) {
	if p.client != nil {
		return p.client, nil
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	client, err := dialSMTP(ctx, addr, p.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("provider(smtp): dial %s: %w", addr, err)
	}

	auth := gosasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return nil, fmt.Errorf("provider(smtp): auth: %w", err)
	}

	p.client = client
	return client, nil
}

// dialSMTP opens a connection and upgrades to TLS via STARTTLS when the
// server advertises it, matching the go-mail default of opportunistic
// TLS rather than requiring implicit TLS on every account.
func dialSMTP(ctx context.Context, addr, serverName string) (*gosmtp.Client, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := gosmtp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: serverName}
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	return client, nil
}

// buildMessage renders msg into a RFC 5322 byte stream via go-mail,
// which is what both provider variants hand to go-smtp's Data writer.
func buildMessage(fromName, fromEmail string, msg domain.Message) ([]byte, error) {
	m := mail.NewMsg()

	if err := m.FromFormat(fromName, fromEmail); err != nil {
		return nil, fmt.Errorf("provider: set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("provider: set to: %w", err)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, fmt.Errorf("provider: set cc: %w", err)
		}
	}
	if len(msg.BCC) > 0 {
		if err := m.Bcc(msg.BCC...); err != nil {
			return nil, fmt.Errorf("provider: set bcc: %w", err)
		}
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	for _, a := range msg.Attachments {
		m.AttachReader(a.Filename, bytes.NewReader(a.Data))
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("provider: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// sendRaw issues MAIL FROM / RCPT TO / DATA against an authenticated
// client for raw, the already-encoded message.
func sendRaw(client *gosmtp.Client, from string, msg domain.Message, raw []byte) error {
	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("provider: mail from: %w", err)
	}

	recipients := append([]string{msg.To}, append(append([]string{}, msg.CC...), msg.BCC...)...)
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("provider: rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("provider: data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("provider: write message: %w", err)
	}
	return w.Close()
}
