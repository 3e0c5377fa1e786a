package app

import "math/rand"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const codeLength = 6

// GenerateSessionID produces a short uppercase alphanumeric join code.
// Codes are generated locally with no collision check; two admins generating
// the same code concurrently would silently overwrite each other, which is an
// accepted limitation of the code space.
func GenerateSessionID() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
