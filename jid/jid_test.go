package jid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewString(t *testing.T) {
	j, err := NewString("ortuman@jackal.im/balcony", true)
	require.NoError(t, err)
	require.Equal(t, "ortuman", j.Node())
	require.Equal(t, "jackal.im", j.Domain())
	require.Equal(t, "balcony", j.Resource())
	require.Equal(t, "ortuman@jackal.im/balcony", j.String())
}

func TestNewStringBare(t *testing.T) {
	j, err := NewString("jackal.im", true)
	require.NoError(t, err)
	require.True(t, j.IsServer())
	require.Equal(t, "jackal.im", j.String())
}

func TestNewStringInvalid(t *testing.T) {
	_, err := NewString("", true)
	require.Error(t, err)

	_, err = NewString("@jackal.im", true)
	require.Error(t, err)
}

func TestToBareJID(t *testing.T) {
	j, err := NewString("ortuman@jackal.im/balcony", true)
	require.NoError(t, err)
	bare := j.ToBareJID()
	require.True(t, bare.IsBare())
	require.Equal(t, "ortuman@jackal.im", bare.String())
}

func TestMatchesCaseFold(t *testing.T) {
	a, _ := NewString("Ortuman@Jackal.IM/r1", true)
	b, _ := NewString("ortuman@jackal.im/r1", true)
	require.True(t, a.Matches(b))

	c, _ := NewString("ortuman@jackal.im/r2", true)
	require.False(t, a.Matches(c))
}

func TestMatchesBare(t *testing.T) {
	a, _ := NewString("ortuman@jackal.im/r1", true)
	b, _ := NewString("ortuman@jackal.im/r2", true)
	require.True(t, a.MatchesBare(b))
}
