package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidHash(t *testing.T) {
	assert.True(t, IsValidHash(strings.Repeat("ab", 32)))
	assert.True(t, IsValidHash(strings.Repeat("AB", 32)))
	assert.False(t, IsValidHash(strings.Repeat("00", 32)))
	assert.False(t, IsValidHash("0x"+strings.Repeat("ab", 32)))
	assert.False(t, IsValidHash(strings.Repeat("ab", 31)))
	assert.False(t, IsValidHash(strings.Repeat("zz", 32)))
}

func TestTargetRoundTrip(t *testing.T) {
	target := GetTargetHex(1000)
	require.Len(t, target, 64)

	diff := TargetHexToDiff(target)
	assert.Equal(t, int64(1000), diff.Int64())

	assert.Equal(t, "", GetTargetHex(0))
	assert.Equal(t, strings.Repeat("ff", 32), GetTargetHex(1))
	assert.Equal(t, 0, TargetHexToDiff("zz").Sign())
}

func TestMustParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, MustParseDuration("5s"))
	assert.Panics(t, func() { MustParseDuration("five seconds") })
}
