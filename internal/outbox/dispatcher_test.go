package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written map[string][]kafka.Message
	err     error
}

func (f *fakeWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	if f.written == nil {
		f.written = make(map[string][]kafka.Message)
	}
	f.written[topic] = append(f.written[topic], msgs...)
	return nil
}

func TestDeliverGroupsByTopic(t *testing.T) {
	writer := &fakeWriter{}
	d := &Dispatcher{producer: writer}

	messages := []Message{
		{EventID: 1, EventType: "sync.completed", Topic: "packsync_sync_events", PartitionKey: "user-1", Payload: json.RawMessage(`{"a":1}`)},
		{EventID: 2, EventType: "sync.completed", Topic: "packsync_sync_events", PartitionKey: "user-2", Payload: json.RawMessage(`{"a":2}`)},
		{EventID: 3, EventType: "sync.completed", Topic: "packsync_other", PartitionKey: "user-1", Payload: json.RawMessage(`{"a":3}`)},
	}

	require.NoError(t, d.deliver(context.Background(), messages))
	require.Len(t, writer.written["packsync_sync_events"], 2)
	require.Len(t, writer.written["packsync_other"], 1)

	first := writer.written["packsync_sync_events"][0]
	require.Equal(t, []byte("user-1"), first.Key)
	require.Len(t, first.Headers, 1)
	require.Equal(t, "event_type", first.Headers[0].Key)
	require.Equal(t, []byte("sync.completed"), first.Headers[0].Value)
}

func TestDeliverPropagatesWriterErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	d := &Dispatcher{producer: writer}

	err := d.deliver(context.Background(), []Message{
		{EventID: 1, Topic: "packsync_sync_events", Payload: json.RawMessage(`{}`)},
	})
	require.Error(t, err)
}
