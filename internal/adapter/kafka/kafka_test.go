package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testSummary() domain.RunSummary {
	return domain.RunSummary{
		Client:     "stocks",
		StartedAt:  time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 4, 26, 15, 10, 3, 0, time.UTC),
		Rows:       2,
		Partitions: []string{"AAPL", "IBM"},
		FetchErrs:  1,
	}
}

func TestSerializeToMessage(t *testing.T) {
	summary := testSummary()

	msg, err := serializeToMessage(summary)
	require.NoError(t, err)

	assert.Equal(t, []byte("stocks"), msg.Key)
	assert.Contains(t, string(msg.Value), `"partitions":["AAPL","IBM"]`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "client", msg.Headers[0].Key)
	assert.Equal(t, []byte("stocks"), msg.Headers[0].Value)
	assert.Equal(t, "finished_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-04-26T15:10:03Z"), msg.Headers[1].Value)

	var decoded domain.RunSummary
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, summary, decoded)
}

func TestNotifier_Notify(t *testing.T) {
	w := &fakeWriter{}
	n := &Notifier{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, n.Notify(context.Background(), testSummary()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("stocks"), w.msgs[0].Key)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestNotifier_NotifyError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := &Notifier{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := n.Notify(context.Background(), testSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
