package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresSubscriptionIDAndPhase(t *testing.T) {
	require.Error(t, (&SubscriptionLogEntry{}).Validate())
	require.Error(t, (&SubscriptionLogEntry{SubscriptionID: "s1"}).Validate())
	require.NoError(t, (&SubscriptionLogEntry{SubscriptionID: "s1", Phase: "start"}).Validate())
}

func TestLogEventWritesOneJSONLineWithExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)

	err := l.LogEvent(context.Background(), SubscriptionLogEntry{
		SubscriptionID: "sub-1",
		Collections:    []string{"orders"},
		Phase:          "start",
		Outcome:        "success",
		Duration:       250 * time.Millisecond,
	})
	require.NoError(t, err)

	var out jsonLogOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "sub-1", out.SubscriptionID)
	require.Equal(t, "start", out.Phase)
	require.Equal(t, "info", out.Level)
	require.EqualValues(t, 250, out.DurationMs)
}

func TestLogEventUsesErrorLevelWhenErrorPresent(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)

	require.NoError(t, l.LogEvent(context.Background(), SubscriptionLogEntry{
		SubscriptionID: "sub-1",
		Phase:          "start",
		Error:          "boom",
	}))

	var out jsonLogOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "error", out.Level)
}

func TestLogEventRejectsInvalidEntryWithoutWriting(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)

	err := l.LogEvent(context.Background(), SubscriptionLogEntry{})
	require.Error(t, err)
	require.Zero(t, buf.Len())
}

func TestLogEventRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewJSONLogger(&bytes.Buffer{})
	err := l.LogEvent(ctx, SubscriptionLogEntry{SubscriptionID: "s1", Phase: "start"})
	require.Error(t, err)
}

func TestSummaryAggregatesSuccessErrorAndCollectionCounts(t *testing.T) {
	l := NewJSONLogger(&bytes.Buffer{})
	ctx := context.Background()

	require.NoError(t, l.LogEvent(ctx, SubscriptionLogEntry{SubscriptionID: "s1", Phase: "start", Collections: []string{"orders"}}))
	require.NoError(t, l.LogEvent(ctx, SubscriptionLogEntry{SubscriptionID: "s2", Phase: "start", Collections: []string{"orders"}, Error: "upstream down"}))
	require.NoError(t, l.LogEvent(ctx, SubscriptionLogEntry{SubscriptionID: "s3", Phase: "start", Collections: []string{"customers"}, Error: "upstream down"}))

	summary := l.Summary()
	require.Equal(t, 1, summary.SuccessCount)
	require.Equal(t, 2, summary.ErrorCount)
	require.Equal(t, "upstream down", summary.TopErrorReasons[0].Reason)
	require.Equal(t, 2, summary.TopErrorReasons[0].Count)
	require.Equal(t, "orders", summary.TopCollections[0].Collection)
	require.Equal(t, 2, summary.TopCollections[0].Count)
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	n := NewNoopLogger()
	require.NoError(t, n.LogEvent(context.Background(), SubscriptionLogEntry{}))
	require.Equal(t, &Summary{TopErrorReasons: []ReasonStat{}, TopCollections: []CollectionStat{}}, n.Summary())
}
