package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, m.Set("sub1", "s3cr3t"))
	got, err := m.Get("sub1")
	assert.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	assert.NoError(t, m.Delete("sub1"))
	_, err = m.Get("sub1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteMissingIsNoop(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Delete("never-set"))
}

func TestMemorySatisfiesKeyring(t *testing.T) {
	var _ Keyring = NewMemory()
	var _ Keyring = OS{}
}
