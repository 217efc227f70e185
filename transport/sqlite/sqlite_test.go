package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/wireflow/internal/bridge/config"
	"github.com/drblury/wireflow/transport"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
	assert.True(t, caps.RequiresCorrelation())
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.SQLiteCapabilities, caps)
	assert.Equal(t, "sqlite", caps.Name)
}

func TestImplementsIntrospection(t *testing.T) {
	var _ transport.QueueIntrospector = (*Transport)(nil)
	var _ transport.DLQManager = (*Transport)(nil)
	var _ transport.DLQLister = (*Transport)(nil)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, "wireflow_queue.db", result.FilePath)
		assert.Equal(t, DefaultPollInterval, result.PollInterval)
		// MaxRetries defaults only if < 0, so 0 stays 0
		assert.Equal(t, 0, result.MaxRetries)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		result := Config{
			FilePath:     "custom.db",
			PollInterval: 200 * time.Millisecond,
			MaxRetries:   5,
		}.withDefaults()

		assert.Equal(t, "custom.db", result.FilePath)
		assert.Equal(t, 200*time.Millisecond, result.PollInterval)
		assert.Equal(t, 5, result.MaxRetries)
	})

	t.Run("negative poll interval gets default", func(t *testing.T) {
		result := Config{PollInterval: -1}.withDefaults()
		assert.Equal(t, DefaultPollInterval, result.PollInterval)
	})

	t.Run("negative max retries gets default", func(t *testing.T) {
		result := Config{MaxRetries: -1}.withDefaults()
		assert.Equal(t, DefaultMaxRetries, result.MaxRetries)
	})
}

func TestNew(t *testing.T) {
	t.Run("creates transport with in-memory db", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})

		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.NotNil(t, tr.db)
		assert.False(t, tr.closed)

		require.NoError(t, tr.Close())
	})

	t.Run("creates transport with file db", func(t *testing.T) {
		tmpFile := "test_sqlite_" + time.Now().Format("20060102150405") + ".db"
		defer os.Remove(tmpFile)

		tr, err := New(Config{FilePath: tmpFile}, watermill.NopLogger{})

		require.NoError(t, err)
		require.NotNil(t, tr)
		require.NoError(t, tr.Close())
	})

	t.Run("defaults a nil logger", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, nil)
		require.NoError(t, err)
		defer tr.Close()

		assert.NotNil(t, tr.logger)
	})

	t.Run("initializes schema", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		var count int
		err = tr.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='messages'").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		err = tr.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='dead_letter_queue'").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestBuild(t *testing.T) {
	cfg := &config.Config{
		Transport:    TransportName,
		SQLiteFile:   ":memory:",
		PollInterval: 25 * time.Millisecond,
	}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

	require.NoError(t, err)
	require.NotNil(t, tr.Publisher)
	assert.Equal(t, tr.Publisher, tr.Subscriber)

	st, ok := tr.Publisher.(*Transport)
	require.True(t, ok)
	assert.Equal(t, 25*time.Millisecond, st.config.PollInterval)
	st.Close()
}

func TestTransport_Publish(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	t.Run("publishes single message", func(t *testing.T) {
		err := tr.Publish("test.topic", message.NewMessage("test-uuid-1", []byte("test payload")))
		require.NoError(t, err)

		count, err := tr.GetPendingCount("test.topic")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("publishes multiple messages", func(t *testing.T) {
		msg1 := message.NewMessage("test-uuid-2", []byte("payload 1"))
		msg2 := message.NewMessage("test-uuid-3", []byte("payload 2"))
		require.NoError(t, tr.Publish("test.topic2", msg1, msg2))

		count, err := tr.GetPendingCount("test.topic2")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("fails on closed transport", func(t *testing.T) {
		closedTr := newTestTransport(t)
		closedTr.Close()

		err := closedTr.Publish("test.topic", message.NewMessage("test-uuid-closed", []byte("test")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestTransport_Subscribe(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	t.Run("delivers published messages", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msgChan, err := tr.Subscribe(ctx, "sub.topic")
		require.NoError(t, err)

		require.NoError(t, tr.Publish("sub.topic", message.NewMessage("sub-test-1", []byte("subscribe test"))))

		select {
		case received := <-msgChan:
			assert.Equal(t, "sub-test-1", received.UUID)
			assert.EqualValues(t, []byte("subscribe test"), received.Payload)
			received.Ack()
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("fails on closed transport", func(t *testing.T) {
		closedTr := newTestTransport(t)
		closedTr.Close()

		_, err := closedTr.Subscribe(context.Background(), "test.topic")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestTransport_DelayedDelivery(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msgChan, err := tr.Subscribe(ctx, "delay.topic")
	require.NoError(t, err)

	msg := message.NewMessage("delay-test-1", []byte("delayed"))
	msg.Metadata.Set(DelayMetadataKey, "300ms")
	require.NoError(t, tr.Publish("delay.topic", msg))

	select {
	case <-msgChan:
		t.Fatal("message delivered before its delay elapsed")
	case <-time.After(150 * time.Millisecond):
	}

	select {
	case received := <-msgChan:
		assert.Equal(t, "delay-test-1", received.UUID)
		received.Ack()
	case <-ctx.Done():
		t.Fatal("timeout waiting for delayed message")
	}
}

func TestTransport_Close(t *testing.T) {
	t.Run("closes transport", func(t *testing.T) {
		tr := newTestTransport(t)
		require.NoError(t, tr.Close())
		assert.True(t, tr.closed)
	})

	t.Run("idempotent close", func(t *testing.T) {
		tr := newTestTransport(t)
		require.NoError(t, tr.Close())
		require.NoError(t, tr.Close())
	})
}

func TestTransport_GetCapabilities(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	assert.Equal(t, transport.SQLiteCapabilities, tr.GetCapabilities())
}

func TestTransport_GetDB(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	assert.Equal(t, tr.db, tr.GetDB())
}

func TestTransport_GetPendingCount(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	count, err := tr.GetPendingCount("pending.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, tr.Publish("pending.topic", message.NewMessage("pending-1", []byte("test"))))

	count, err = tr.GetPendingCount("pending.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTransport_GetDLQCount(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	count, err := tr.GetDLQCount("dlq.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = tr.db.Exec(`
		INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message)
		VALUES ('dlq-uuid-1', 'dlq.topic', 'test', '{}', 'test error')
	`)
	require.NoError(t, err)

	count, err = tr.GetDLQCount("dlq.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTransport_ReplayDLQMessage(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	result, err := tr.db.Exec(`
		INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
		VALUES ('replay-uuid', 'replay.topic', 'replay payload', '{"key":"value"}', 'error msg', 3)
	`)
	require.NoError(t, err)

	dlqID, err := result.LastInsertId()
	require.NoError(t, err)

	require.NoError(t, tr.ReplayDLQMessage(dlqID))

	count, err := tr.GetPendingCount("replay.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	dlqCount, err := tr.GetDLQCount("replay.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqCount)
}

func TestTransport_ReplayAllDLQ(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		_, err := tr.db.Exec(`
			INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message)
			VALUES (?, 'replay-all.topic', 'payload', '{}', 'error')
		`, "replay-all-uuid-"+string(rune('0'+i)))
		require.NoError(t, err)
	}

	affected, err := tr.ReplayAllDLQ("replay-all.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count, err := tr.GetPendingCount("replay-all.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	dlqCount, err := tr.GetDLQCount("replay-all.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlqCount)
}

func TestTransport_PurgeDLQ(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		_, err := tr.db.Exec(`
			INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message)
			VALUES (?, 'purge.topic', 'payload', '{}', 'error')
		`, "purge-uuid-"+string(rune('0'+i)))
		require.NoError(t, err)
	}

	affected, err := tr.PurgeDLQ("purge.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	count, err := tr.GetDLQCount("purge.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTransport_ListDLQMessages(t *testing.T) {
	tr := newTestTransport(t)
	defer tr.Close()

	for i := 0; i < 5; i++ {
		_, err := tr.db.Exec(`
			INSERT INTO dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
			VALUES (?, 'list.topic', ?, '{}', 'error msg', ?)
		`, "list-uuid-"+string(rune('0'+i)), []byte("payload-"+string(rune('0'+i))), i)
		require.NoError(t, err)
	}

	t.Run("list with pagination", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("list.topic", 2, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("list with offset", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("list.topic", 10, 3)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("message fields populated", func(t *testing.T) {
		msgs, err := tr.ListDLQMessages("list.topic", 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		msg := msgs[0]
		assert.NotZero(t, msg.ID)
		assert.NotEmpty(t, msg.UUID)
		assert.Equal(t, "list.topic", msg.OriginalTopic)
		assert.NotEmpty(t, msg.Payload)
		assert.NotNil(t, msg.Metadata)
		assert.Equal(t, "error msg", msg.ErrorMessage)
		assert.False(t, msg.FailedAt.IsZero())
	})
}

func TestTransport_MessageAckNack(t *testing.T) {
	t.Run("acked message is removed", func(t *testing.T) {
		tr := newTestTransport(t)
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msgChan, err := tr.Subscribe(ctx, "ack.topic")
		require.NoError(t, err)

		require.NoError(t, tr.Publish("ack.topic", message.NewMessage("ack-test-1", []byte("ack test"))))

		select {
		case received := <-msgChan:
			received.Ack()
			time.Sleep(50 * time.Millisecond)
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}

		count, err := tr.GetPendingCount("ack.topic")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("nacked message is redelivered after backoff", func(t *testing.T) {
		tr := newTestTransport(t)
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		msgChan, err := tr.Subscribe(ctx, "retry.topic")
		require.NoError(t, err)

		require.NoError(t, tr.Publish("retry.topic", message.NewMessage("retry-test-1", []byte("retry test"))))

		select {
		case received := <-msgChan:
			received.Nack()
		case <-ctx.Done():
			t.Fatal("timeout waiting for first delivery")
		}

		select {
		case received := <-msgChan:
			assert.Equal(t, "retry-test-1", received.UUID)
			received.Ack()
		case <-ctx.Done():
			t.Fatal("timeout waiting for redelivery")
		}
	})

	t.Run("nacked message goes to DLQ after max retries", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:", MaxRetries: 0, PollInterval: 50 * time.Millisecond}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msgChan, err := tr.Subscribe(ctx, "nack.topic")
		require.NoError(t, err)

		require.NoError(t, tr.Publish("nack.topic", message.NewMessage("nack-test-1", []byte("nack test"))))

		select {
		case received := <-msgChan:
			received.Nack()
			time.Sleep(100 * time.Millisecond)
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}

		dlqCount, err := tr.GetDLQCount("nack.topic")
		require.NoError(t, err)
		assert.Equal(t, int64(1), dlqCount)
	})
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Config{
		FilePath:     ":memory:",
		PollInterval: 20 * time.Millisecond,
		MaxRetries:   3,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	return tr
}
