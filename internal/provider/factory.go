package provider

import (
	"encoding/json"
	"fmt"

	"github.com/sendcore/engine/internal/domain"
)

// Factory is the sole place providerKind and a SenderAccount's decrypted
// config are switched on to produce a live Provider.
type Factory struct{}

// NewFactory builds a Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// New decodes decryptedConfig per kind and constructs the matching
// Provider variant.
func (f *Factory) New(kind domain.ProviderKind, decryptedConfig []byte) (domain.Provider, error) {
	switch kind {
	case domain.ProviderKindSMTP:
		var cfg SMTPAccountConfig
		if err := json.Unmarshal(decryptedConfig, &cfg); err != nil {
			return nil, fmt.Errorf("provider factory: decode smtp config: %w", err)
		}
		return NewSMTPProvider(cfg), nil
	case domain.ProviderKindGmail:
		var cfg GmailAccountConfig
		if err := json.Unmarshal(decryptedConfig, &cfg); err != nil {
			return nil, fmt.Errorf("provider factory: decode gmail config: %w", err)
		}
		return NewGmailProvider(cfg), nil
	default:
		return nil, fmt.Errorf("provider factory: unknown provider kind %q", kind)
	}
}
