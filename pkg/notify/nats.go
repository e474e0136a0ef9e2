package notify

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used to mirror admin notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials the NATS server used for admin alert fan-out.
// An empty url returns (nil, nil) so callers can treat NATS as optional.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.Join(ErrNATSConnect, err)
	}
	return nc, nil
}
