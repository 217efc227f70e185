package natscore

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/wireflow/transport"
)

func TestImplementsTransportContracts(t *testing.T) {
	var _ transport.Registrar = (*Conn)(nil)
	var _ transport.Invoker = (*Conn)(nil)
	var _ transport.Target = (*Conn)(nil)
	var _ transport.EventSource = (*Conn)(nil)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSCoreCapabilities, caps)
	assert.Equal(t, "nats-core", caps.Name)
	assert.True(t, caps.SupportsRequestReply)
	assert.False(t, caps.RequiresCorrelation())
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "nats-core", TransportName)
}

func TestConnect(t *testing.T) {
	t.Run("defaults the URL", func(t *testing.T) {
		originalFactory := ConnectFactory
		defer func() { ConnectFactory = originalFactory }()

		var gotURL string
		ConnectFactory = func(url string, opts []nats.Option) (*nats.Conn, error) {
			gotURL = url
			return nil, errors.New("stop here")
		}

		_, err := Connect("", Options{})
		require.Error(t, err)
		assert.Equal(t, nats.DefaultURL, gotURL)
	})

	t.Run("passes the URL through", func(t *testing.T) {
		originalFactory := ConnectFactory
		defer func() { ConnectFactory = originalFactory }()

		var gotURL string
		ConnectFactory = func(url string, opts []nats.Option) (*nats.Conn, error) {
			gotURL = url
			return nil, errors.New("stop here")
		}

		_, err := Connect("nats://broker:4222", Options{})
		require.Error(t, err)
		assert.Equal(t, "nats://broker:4222", gotURL)
	})

	t.Run("wraps the dial error", func(t *testing.T) {
		originalFactory := ConnectFactory
		defer func() { ConnectFactory = originalFactory }()

		ConnectFactory = func(url string, opts []nats.Option) (*nats.Conn, error) {
			return nil, errors.New("no route to broker")
		}

		_, err := Connect("nats://broker:4222", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no route to broker")
	})

	t.Run("appends custom options", func(t *testing.T) {
		originalFactory := ConnectFactory
		defer func() { ConnectFactory = originalFactory }()

		var gotOpts int
		ConnectFactory = func(url string, opts []nats.Option) (*nats.Conn, error) {
			gotOpts = len(opts)
			return nil, errors.New("stop here")
		}

		_, err := Connect("", Options{})
		require.Error(t, err)
		baseline := gotOpts

		_, err = Connect("", Options{NatsOptions: []nats.Option{nats.NoEcho()}})
		require.Error(t, err)
		assert.Equal(t, baseline+1, gotOpts)
	})
}

func TestWrapRequiresConnection(t *testing.T) {
	_, err := Wrap(nil, Options{})
	assert.ErrorIs(t, err, ErrConnRequired)
}
