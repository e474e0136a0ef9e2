package notify

// Config holds notification settings.
type Config struct {
	AdminEmail  string `env:"ADMIN_EMAIL"`
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_ADMIN_SUBJECT" envDefault:"mailqueue.admin"`
}
