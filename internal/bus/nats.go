package bus

import (
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Bus wraps the NATS connection and its JetStream handle. Both are safe for
// concurrent use; each consumer creates its own pull subscription on Stream.
type Bus struct {
	Conn   *nats.Conn
	JS     jetstream.JetStream
	Stream string
}

// Connect dials the NATS endpoint and opens a JetStream context.
func Connect(endpoint, stream string) (*Bus, error) {
	nc, err := nats.Connect(endpoint, nats.Name("feeds-api"))
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	log.Info().Str("endpoint", endpoint).Str("stream", stream).Msg("connected to nats")

	return &Bus{Conn: nc, JS: js, Stream: stream}, nil
}

// Close drains the connection, letting in-flight acks complete.
func (b *Bus) Close() {
	if err := b.Conn.Drain(); err != nil {
		log.Error().Err(err).Msg("nats drain failed")
	}
}
