package manga

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportErrorHelpers(t *testing.T) {
	t.Parallel()

	te := &TransportError{
		URL: "https://example.com/x",
		Attempts: []AttemptError{
			{Strategy: "direct", StatusCode: 403, Err: errors.New("Forbidden")},
			{Strategy: "proxy-1", Err: errors.New("timeout")},
		},
	}
	wrapped := fmt.Errorf("detail: %w", te)

	require.True(t, IsTransport(wrapped))
	require.False(t, IsGone(wrapped))
	require.Contains(t, te.Error(), "after 2 attempts")
	require.Contains(t, te.Error(), "direct: status 403")

	te.Attempts = append(te.Attempts, AttemptError{Strategy: "proxy-2", StatusCode: 404, Err: errors.New("Not Found")})
	require.False(t, IsGone(wrapped), "a relay's 404 says nothing about the upstream")

	te.Attempts = append(te.Attempts, AttemptError{Strategy: StrategyHeadless, StatusCode: 410, Err: errors.New("Gone")})
	require.True(t, IsGone(wrapped))
	require.False(t, IsTransport(ErrNotFound))
}

func TestTransportErrorGoneOnDirect404(t *testing.T) {
	t.Parallel()

	te := &TransportError{URL: "https://example.com/x", Attempts: []AttemptError{
		{Strategy: StrategyDirect, StatusCode: 404, Err: errors.New("Not Found")},
		{Strategy: "proxy-1", StatusCode: 502, Err: errors.New("Bad Gateway")},
	}}
	require.True(t, te.Gone())
}
