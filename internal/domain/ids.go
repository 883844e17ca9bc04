package domain

import (
	"crypto/rand"
	"math/big"
)

const (
	challengeIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	challengeIDLength   = 6
)

// NewChallengeID returns a short random base36 token. Callers must still
// check for collisions.
func NewChallengeID() (string, error) {
	base := big.NewInt(int64(len(challengeIDAlphabet)))
	buf := make([]byte, challengeIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		buf[i] = challengeIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}
