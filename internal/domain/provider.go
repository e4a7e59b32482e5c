package domain

import "context"

// Attachment is a file attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the provider-agnostic shape handed to Provider.Send.
type Message struct {
	To          string
	CC          []string
	BCC         []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Provider is a capability, not a class hierarchy: one live instance
// per physical sender account, produced by a factory that is the only
// place ProviderKind is switched on. Close is idempotent and must be
// called on every exit path.
//
//go:generate mockgen -source=provider.go -destination=mocks/provider_mock.go -package=mocks
type Provider interface {
	Send(ctx context.Context, msg Message) error
	Verify(ctx context.Context) error
	Close() error
}

// ProviderFactory builds a live Provider for an account's kind and
// decrypted configuration bytes.
type ProviderFactory interface {
	New(kind ProviderKind, decryptedConfig []byte) (Provider, error)
}

// Compiler is the Template Compiler collaborator: resolve a template
// reference, render it against recipient variables, and separately
// rewrite links/insert a pixel for tracking. Implementations must not
// mutate inputs.
type Compiler interface {
	// Compile resolves templateRef through a TemplateRepository, then
	// renders it against data. baseURL is threaded through for any
	// absolute-URL helpers the template language exposes.
	Compile(ctx context.Context, templateRef string, data map[string]string, baseURL string) (string, error)
	InjectTracking(html, token, baseURL string, opts TrackingOptions) (string, error)
	// SubstituteSubject replaces {{var}} placeholders in subject using
	// data; a missing key is left as the literal placeholder.
	SubstituteSubject(subject string, data map[string]string) string
}

// TemplateRepository resolves a Campaign/RecurringCampaign/SequenceStep's
// opaque TemplateRef into the raw template markup the Compiler renders.
type TemplateRepository interface {
	GetHTML(ctx context.Context, templateRef string) (string, error)
}

// TrackingOptions toggles which tracking instrumentation the compiler
// injects.
type TrackingOptions struct {
	Open  bool
	Click bool
}
