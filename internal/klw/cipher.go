package klw

import (
	"crypto/aes"
	"fmt"
)

// CipherDirection selects which AES block primitive answers a challenge.
type CipherDirection string

const (
	// CipherDecrypt applies the AES decryption primitive to the challenge.
	// Deployed gateways expect this.
	CipherDecrypt CipherDirection = "decrypt"

	// CipherEncrypt applies the AES encryption primitive.
	CipherEncrypt CipherDirection = "encrypt"
)

const challengeKeySize = 16

// challengeKey derives the AES-128 key from the integration code: its UTF-8
// bytes, zero padded or truncated to 16.
func challengeKey(code string) []byte {
	key := make([]byte, challengeKeySize)
	copy(key, code)
	return key
}

// transformChallenge runs the 16-byte challenge through one AES-128-ECB block
// operation keyed by code.
func transformChallenge(dir CipherDirection, code string, challenge []byte) ([]byte, error) {
	if len(challenge) != aes.BlockSize {
		return nil, fmt.Errorf("%w: challenge is %d bytes, want %d", ErrProtocol, len(challenge), aes.BlockSize)
	}
	block, err := aes.NewCipher(challengeKey(code))
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, aes.BlockSize)
	switch dir {
	case CipherEncrypt:
		block.Encrypt(out, challenge)
	case CipherDecrypt, "":
		block.Decrypt(out, challenge)
	default:
		return nil, fmt.Errorf("unknown cipher direction %q", dir)
	}
	return out, nil
}
