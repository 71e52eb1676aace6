package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanReturnedEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)

	event := LoanReturned(11, 1, 7, at, 10, 15)

	_, err := uuid.Parse(event.EventID)
	require.NoError(t, err)
	assert.Equal(t, EventTypeLoanReturned, event.EventType)
	assert.Equal(t, "1.0.0", event.EventVersion)
	assert.Equal(t, "2024-05-10T08:30:00Z", event.Timestamp)
	assert.Equal(t, int64(15), event.Payload["fine"])
	assert.Equal(t, 10, event.Payload["days"])
}

func TestEventJSONShape(t *testing.T) {
	event := BookAdded(3, "C++", 1, time.Unix(0, 0))
	event.CorrelationID = "req-1"

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "book.added", decoded["event_type"])
	assert.Equal(t, "req-1", decoded["correlation_id"])
	assert.Equal(t, "C++", decoded["payload"].(map[string]interface{})["title"])
}

func TestCorrelationIDFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", CorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "abc")
	assert.Equal(t, "abc", CorrelationID(ctx))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, nextBackoff(initialBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(4*time.Second))
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()

	require.NoError(t, rec.Publish(ctx, BookDeleted(1, time.Now())))
	require.NoError(t, rec.Publish(ctx, LoanIssued(1, 2, 3, time.Now())))

	assert.Equal(t, []string{EventTypeBookDeleted, EventTypeLoanIssued}, rec.Types())
	assert.True(t, rec.IsHealthy())
}
