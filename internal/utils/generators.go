package utils

import (
	"crypto/rand"
	"math/big"
	"time"
)

// GenerateOrderCode returns a gateway-facing numeric order code: unix-second
// prefix shifted by six digits plus a crypto-random suffix. The timestamp
// prefix keeps codes roughly time-ordered; the suffix makes two codes
// generated in the same second collision-resistant.
func GenerateOrderCode() int64 {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(1_000_000))
	return timestamp*1_000_000 + randomNum.Int64()
}
