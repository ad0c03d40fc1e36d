package session

import (
	"crypto/rand"
	"math/big"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeGenerator produces candidate session codes
type CodeGenerator func() (string, error)

var alphabetSize = big.NewInt(int64(len(codeAlphabet)))

// RandomCode draws 8 characters uniformly from the base-36 alphabet
func RandomCode() (string, error) {
	code := make([]byte, 8)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
