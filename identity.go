package stagedpush

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const identityNonceBytes = 6

// NewIdentity returns a worker identity of the form hostname:pid:nonce.
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	nonce := make([]byte, identityNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		panic(fmt.Sprintf("stagedpush: read identity nonce: %v", err))
	}

	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), hex.EncodeToString(nonce))
}
