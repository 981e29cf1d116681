package security

import (
	"strings"
	"testing"

	"ilpsdk/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	a, err := s.Seal([]byte(`{"secret":"snoPBrXtMeMyMHUVTgbuqAfg1SUTb"}`))
	require.NoError(t, err)
	b, err := s.Seal([]byte(`{"secret":"snoPBrXtMeMyMHUVTgbuqAfg1SUTb"}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")
	assert.NotContains(t, a, "snoPBr")

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, `{"secret":"snoPBrXtMeMyMHUVTgbuqAfg1SUTb"}`, string(plain))
}

func TestOpenRejectsTampering(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	other, err := NewSealer("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrCiphertext)
	_, err = s.Open("not base64!")
	assert.ErrorIs(t, err, ErrCiphertext)
	_, err = s.Open("AAAA")
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestNewSealerKeyLength(t *testing.T) {
	_, err := NewSealer("abcd")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
	_, err = NewSealer("zz")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}
