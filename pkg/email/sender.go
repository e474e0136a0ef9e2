package email

import "fmt"

// NewSender returns the EmailSender selected by cfg.Provider.
func NewSender(cfg Config) (EmailSender, error) {
	switch cfg.Provider {
	case "", ProviderDev:
		return NewDevSender(cfg.DevDir), nil
	case ProviderPostmark:
		return NewPostmarkClient(cfg)
	case ProviderSMTP:
		signer, err := DKIMSignerFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return NewSMTPSender(cfg, signer)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
