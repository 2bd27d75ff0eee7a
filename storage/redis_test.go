package storage

import (
	"testing"

	"github.com/J-A-M-P-S/structs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatKey(t *testing.T) {
	r := &RedisClient{prefix: "mmproxy"}
	assert.Equal(t, "mmproxy:nodes", r.formatKey("nodes"))
	assert.Equal(t, "mmproxy:blocks:mined", r.formatKey("blocks", "mined"))
	assert.Equal(t, "a:7:true:9", join("a", uint64(7), true, int64(9)))
}

func TestMinedBlockEntry(t *testing.T) {
	in := &MinedBlock{Height: 12, Hash: "abcd", ForeignHeight: 3100000, ForeignAccepted: true, Timestamp: 1700000000}
	assert.Equal(t, "12:abcd:3100000:true:1700000000", in.key())

	out, err := parseMinedBlock(in.key())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = parseMinedBlock("12:abcd")
	assert.Error(t, err)
	_, err = parseMinedBlock("x:abcd:1:true:1")
	assert.Error(t, err)
}

func TestConvertNodeStates(t *testing.T) {
	states := convertNodeStates(map[string]string{
		"main:name":     "main",
		"main:height":   "10",
		"main:lastBeat": "1700000000",
		"broken":        "x",
	})
	require.Len(t, states, 1)
	assert.Equal(t, "10", states[0]["height"])
	assert.Equal(t, "main", states[0]["name"])
}

func TestConfigHidesPassword(t *testing.T) {
	settings := structs.Map(&Config{Endpoint: "127.0.0.1:6379", Password: "secret"})
	assert.Equal(t, "127.0.0.1:6379", settings["Endpoint"])
	assert.NotContains(t, settings, "Password")
}
