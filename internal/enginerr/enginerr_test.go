package enginerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesReasonAndSuggestion(t *testing.T) {
	err := NewLimitWithoutOrderBy()
	msg := err.Error()
	require.Contains(t, msg, "LIMIT/OFFSET requires ORDER BY")
	require.Contains(t, msg, "Reason:")
	require.Contains(t, msg, "Suggestion:")
}

func TestErrorIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamError("orders", cause)
	require.Contains(t, err.Error(), "connection refused")
	require.ErrorIs(t, err, cause)
}

func TestNewQueryRejectedCarriesReasonAndSuggestion(t *testing.T) {
	err := NewQueryRejected("SELECT * FROM t WINDOW w AS ()", "window functions are not supported", "remove the WINDOW clause")
	require.Equal(t, CodeCompile, err.Code)
	require.Contains(t, err.Error(), "window functions are not supported")
	require.Contains(t, err.Error(), "remove the WINDOW clause")
}

func TestNewInvariantViolationCode(t *testing.T) {
	err := NewInvariantViolation("topk", "retraction for an unknown row")
	require.Equal(t, CodeInvariant, err.Code)
	require.Contains(t, err.Error(), "topk")
}

func TestNewPushdownConversionFailedWrapsCause(t *testing.T) {
	cause := errors.New("bad predicate")
	err := NewPushdownConversionFailed("orders", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, CodeCompile, err.Code)
}
