package broadcast

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/noah-isme/fintrack-api/pkg/config"
)

// NATS fans invalidations out over a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials the configured NATS server.
func ConnectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name(cfg.Name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// NewNATS returns a bus publishing on subject.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

func (n *NATS) Publish(_ context.Context, sessionID string) error {
	if err := n.conn.Publish(n.subject, []byte(sessionID)); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, handle Handler) error {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		if len(msg.Data) > 0 {
			handle(string(msg.Data))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
