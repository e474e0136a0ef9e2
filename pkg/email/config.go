package email

import "time"

// Config holds email service configuration. Provider credentials are
// optional so development can run with the file-based DevSender.
type Config struct {
	Provider     string `env:"EMAIL_PROVIDER" envDefault:"dev"`
	SenderEmail  string `env:"SENDER_EMAIL" envDefault:"noreply@localhost.localdomain"`
	SupportEmail string `env:"SUPPORT_EMAIL"`
	DevDir       string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPHelo     string        `env:"SMTP_HELO" envDefault:"localhost"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`

	DKIMSelector   string `env:"DKIM_SELECTOR"`
	DKIMDomain     string `env:"DKIM_DOMAIN"`
	DKIMPrivateKey string `env:"DKIM_PRIVATE_KEY"`
	DKIMKeyPath    string `env:"DKIM_KEY_PATH"`
}

const (
	ProviderDev      = "dev"
	ProviderPostmark = "postmark"
	ProviderSMTP     = "smtp"
)
