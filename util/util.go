package util

import (
	"encoding/hex"
	"math/big"
	"regexp"
	"time"
)

var pow256 = new(big.Int).Lsh(big.NewInt(1), 256)
var hashPattern = regexp.MustCompile("^[0-9a-fA-F]{64}$")
var zeroHash = regexp.MustCompile("^0?x?0+$")

// IsValidHash reports whether s is a 32 byte hash in plain hex, the way the
// foreign daemon prints block and transaction ids.
func IsValidHash(s string) bool {
	if IsZeroHash(s) || !hashPattern.MatchString(s) {
		return false
	}
	return true
}

func IsZeroHash(s string) bool {
	return zeroHash.MatchString(s)
}

func MakeTimestamp() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// GetTargetHex converts a difficulty into the 256 bit share target
// (2^256 / difficulty) encoded as big endian hex.
func GetTargetHex(diff uint64) string {
	if diff == 0 {
		return ""
	}
	target := new(big.Int).Div(pow256, new(big.Int).SetUint64(diff))
	if target.BitLen() > 256 {
		target.Sub(target, big.NewInt(1))
	}
	return hex.EncodeToString(target.FillBytes(make([]byte, 32)))
}

func TargetHexToDiff(targetHex string) *big.Int {
	targetBytes, err := hex.DecodeString(targetHex)
	if err != nil || len(targetBytes) == 0 {
		return new(big.Int)
	}
	target := new(big.Int).SetBytes(targetBytes)
	if target.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(pow256, target)
}

func MustParseDuration(s string) time.Duration {
	value, err := time.ParseDuration(s)
	if err != nil {
		panic("util: Can't parse duration `" + s + "`: " + err.Error())
	}
	return value
}

// MetricsBucketsMilliSeconds are histogram buckets for request durations
// observed in seconds, starting at one millisecond.
var MetricsBucketsMilliSeconds = []float64{
	1e-3, 2e-3, 4e-3, 16e-3, 32e-3, 64e-3, 128e-3, 256e-3, 512e-3, 1024e-3, 2048e-3, 4096e-3,
}
