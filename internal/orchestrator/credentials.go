// File: internal/orchestrator/credentials.go
package orchestrator

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// Word pools for readable usernames. Platforms reject obviously random
// handles more often than plausible ones.
var (
	usernameAdjectives = []string{
		"quiet", "rapid", "amber", "lunar", "cobalt", "mellow", "brisk",
		"vivid", "dusty", "polar", "crimson", "silent", "golden", "wired",
	}
	usernameNouns = []string{
		"falcon", "harbor", "summit", "willow", "ember", "canyon", "drift",
		"meadow", "signal", "copper", "orbit", "thicket", "breeze", "ridge",
	}
)

// newIdentity builds the credentials for one run. The recipient (inbox
// address or phone number) is reserved by the caller; username and password
// are generated here.
func newIdentity(recipient string) (schemas.Credentials, error) {
	r := mrand.New(mrand.NewSource(time.Now().UnixNano()))

	adjective := usernameAdjectives[r.Intn(len(usernameAdjectives))]
	noun := usernameNouns[r.Intn(len(usernameNouns))]
	username := fmt.Sprintf("%s_%s_%d", adjective, noun, r.Intn(10000))

	password, err := generateCompliantPassword()
	if err != nil {
		return schemas.Credentials{}, err
	}

	return schemas.Credentials{
		Recipient: recipient,
		Username:  username,
		Password:  password,
	}, nil
}

// generateCompliantPassword creates a password satisfying common complexity
// rules using crypto/rand. Ambiguous characters (l, I, O, 0, 1) are excluded.
func generateCompliantPassword() (string, error) {
	const lowerChars = "abcdefghijkmnopqrstuvwxyz"
	const upperChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	const numberChars = "23456789"
	const symbolChars = "!@#$%^&*()_+-="
	const minLength = 16

	var password []byte
	availableChars := lowerChars + upperChars + numberChars + symbolChars

	cryptoRandChar := func(charset string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return 0, fmt.Errorf("crypto/rand failure: %w", err)
		}
		return charset[n.Int64()], nil
	}

	// Each mandatory class contributes at least one character.
	for _, charset := range []string{upperChars, numberChars, symbolChars, lowerChars} {
		char, err := cryptoRandChar(charset)
		if err != nil {
			return "", err
		}
		password = append(password, char)
	}

	for len(password) < minLength {
		char, err := cryptoRandChar(availableChars)
		if err != nil {
			return "", err
		}
		password = append(password, char)
	}

	// Fisher-Yates so the mandatory characters aren't predictably placed.
	for i := len(password) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure during shuffle: %w", err)
		}
		j := jBig.Int64()
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}
