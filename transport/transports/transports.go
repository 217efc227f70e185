// Package transports registers all built-in transports with the default
// registry. Import it for its side effects when the transport is picked from
// config at runtime; link only the packages you need otherwise.
//
// The native NATS transport in transport/natscore dials the broker itself
// instead of producing a publisher/subscriber pair, so it is constructed
// directly rather than through the registry.
package transports

import (
	// Registered from their init functions.
	_ "github.com/drblury/wireflow/transport/aws"
	_ "github.com/drblury/wireflow/transport/channel"
	_ "github.com/drblury/wireflow/transport/http"
	_ "github.com/drblury/wireflow/transport/jetstream"
	_ "github.com/drblury/wireflow/transport/kafka"
	_ "github.com/drblury/wireflow/transport/postgres"
	_ "github.com/drblury/wireflow/transport/sqlite"

	"github.com/drblury/wireflow/transport/io"
	"github.com/drblury/wireflow/transport/rabbitmq"
)

func init() {
	// io and rabbitmq register on demand rather than from their own init.
	io.Register()
	rabbitmq.Register()
}
