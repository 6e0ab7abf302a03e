package service

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	codeLength        = 8
	codeCreateRetries = 5
)

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

func newInviteCode() (string, error) {
	return randomString(codeAlphabet, codeLength)
}

func newVerificationCode() (string, error) {
	return randomString("0123456789", 6)
}
