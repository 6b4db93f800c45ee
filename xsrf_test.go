package debate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXSRFTokens(t *testing.T) {
	x, err := NewXSRFTokens("secret")
	require.NoError(t, err)

	token, err := x.Issue()
	require.NoError(t, err)
	assert.NoError(t, x.Verify(token))

	assert.ErrorIs(t, x.Verify(""), ErrInvalidXSRFToken)
	assert.ErrorIs(t, x.Verify(token+"x"), ErrInvalidXSRFToken)

	other, err := NewXSRFTokens("other-secret")
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(token), ErrInvalidXSRFToken)
}

func TestXSRFTokenExpires(t *testing.T) {
	x, err := NewXSRFTokens("secret")
	require.NoError(t, err)
	token, err := x.Issue()
	require.NoError(t, err)

	x.now = func() time.Time { return time.Now().Add(13 * time.Hour) }
	assert.ErrorIs(t, x.Verify(token), ErrInvalidXSRFToken)
}

func TestXSRFRandomSecret(t *testing.T) {
	a, err := NewXSRFTokens("")
	require.NoError(t, err)
	b, err := NewXSRFTokens("")
	require.NoError(t, err)

	token, err := a.Issue()
	require.NoError(t, err)
	assert.NoError(t, a.Verify(token))
	assert.Error(t, b.Verify(token))
}
