package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// newVerificationCode returns a uniformly random code in 100000..999999.
func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
