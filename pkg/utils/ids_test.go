package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMacAddressPid(t *testing.T) {
	hash := HashMacAddressPid("02:42:ac:11:00:02")
	assert.Len(t, hash, 3)
	// Stable within a process.
	assert.Equal(t, hash, HashMacAddressPid("02:42:ac:11:00:02"))
}

func TestGenUniqueID(t *testing.T) {
	id, err := GenUniqueID("042", 1700000000000-CUSTOM_EPOCH, 1)
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestGenUniqueIDMonotonicCounter(t *testing.T) {
	timestamp := int64(1700000000000) - CUSTOM_EPOCH
	a, err := GenUniqueID("042", timestamp, 1)
	require.NoError(t, err)
	b, err := GenUniqueID("042", timestamp, 2)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestGenUniqueIDDistinctTimestamps(t *testing.T) {
	a, err := GenUniqueID("042", 1000, 0)
	require.NoError(t, err)
	b, err := GenUniqueID("042", 1001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenUniqueIDRejectsBadMachineID(t *testing.T) {
	_, err := GenUniqueID("zzz", 1000, 0)
	assert.Error(t, err)
}
