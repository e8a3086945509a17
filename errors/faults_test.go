package errors

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolError(t *testing.T) {
	t.Run("kinds survive wrapping", func(t *testing.T) {
		err := fmt.Errorf("processing request: %w", NewReplay())

		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, FaultReplay, kind)
		assert.True(t, IsKind(err, FaultReplay))
		assert.False(t, IsKind(err, FaultSignature))
	})

	t.Run("plain errors have no kind", func(t *testing.T) {
		_, ok := KindOf(errors.New("boom"))
		assert.False(t, ok)
		assert.False(t, IsKind(nil, FaultValidation))
	})

	t.Run("validation faults name the part", func(t *testing.T) {
		err := NewValidation("oauth_token", "part %q supplied %d times", "oauth_token", 2)
		assert.Equal(t, "oauth_token", err.Part)
		assert.Contains(t, err.Error(), `supplied 2 times`)
		assert.Contains(t, err.Error(), "validation fault")
	})

	t.Run("host faults unwrap their cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := WrapHost(cause, "storing nonce")
		assert.ErrorIs(t, err, cause)
		assert.True(t, IsKind(err, FaultHost))
	})

	t.Run("signature faults carry no detail", func(t *testing.T) {
		assert.Equal(t, "signature fault: message signature verification failed",
			NewSignature().Error())
	})

	t.Run("attribution fills recipient and fields", func(t *testing.T) {
		recipient, _ := url.Parse("https://photos.example.net/request_token")
		fields := url.Values{"oauth_consumer_key": {"dpf43f3p2l4k3l03"}}

		err := NewExpired("20m", "13m").Attribute(recipient, fields)
		assert.Equal(t, recipient, err.Recipient)
		assert.Equal(t, fields, err.Fields)
	})
}

func TestProblemOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{NewValidation("", "bad"), ProblemParameterRejected},
		{NewExpired("1h", "13m"), ProblemTimestampRefused},
		{NewReplay(), ProblemNonceUsed},
		{NewSignature(), ProblemSignatureInvalid},
		{NewHost("misconfigured"), ProblemPermissionDenied},
		{errors.New("anything else"), ProblemPermissionDenied},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ProblemOf(tc.err), "for %v", tc.err)
	}
}
