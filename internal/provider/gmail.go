package provider

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	gosasl "github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sendcore/engine/internal/domain"
)

// GmailProvider sends mail through Gmail's SMTP relay authenticated by
// XOAUTH2. The refresh token is exchanged for a short-lived access
// token via golang.org/x/oauth2/google on every connection, since
// go-smtp holds no connection between sends once Close is called.
type GmailProvider struct {
	cfg    GmailAccountConfig
	oauth  *oauth2.Config
	source oauth2.TokenSource

	mu     sync.Mutex
	client *gosmtp.Client
}

// NewGmailProvider builds a Provider for a gmail SenderAccount.
func NewGmailProvider(cfg GmailAccountConfig) *GmailProvider {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return &GmailProvider{
		cfg:    cfg,
		oauth:  oauthCfg,
		source: oauthCfg.TokenSource(context.Background(), token),
	}
}

// Send authenticates with a fresh access token and delivers msg.
func (p *GmailProvider) Send(ctx context.Context, msg domain.Message) error {
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

// Verify refreshes the token and completes an XOAUTH2 handshake without
// sending, confirming the refresh token is still valid.
func (p *GmailProvider) Verify(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.ensureClient(ctx)
	return err
}

// Close tears down the SMTP connection if one is open. Idempotent.
func (p *GmailProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *GmailProvider) closeLocked() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Quit()
	p.client = nil
	return err
}

func (p *GmailProvider) ensureClient(ctx context.Context) (*gosmtp.Client, error) {
	if p.client != nil {
		return p.client, nil
	}

	token, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("provider(gmail): refresh token: %w", err)
	}

	addr := net.JoinHostPort(gmailSMTPHost, strconv.Itoa(gmailSMTPPort))
	client, err := dialSMTP(ctx, addr, gmailSMTPHost)
	if err != nil {
		return nil, fmt.Errorf("provider(gmail): dial %s: %w", addr, err)
	}

	auth := gosasl.NewXOAuth2Client(p.cfg.FromEmail, token.AccessToken)
	if err := client.Auth(auth); err != nil {
		client.Close()
		return nil, fmt.Errorf("provider(gmail): xoauth2 auth: %w", err)
	}

	p.client = client
	return client, nil
}
