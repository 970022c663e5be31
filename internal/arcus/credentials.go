package arcus

import (
	"crypto/md5" //nolint:gosec // remote wire format, not password storage
	"encoding/hex"
)

// Credentials holds the four account secrets the Arcus cloud requires.
// All fields are set once at startup and immutable afterwards.
type Credentials struct {
	Email    string
	Password string // plaintext in memory only; hashed before transmission
	APIKey   string
	KeyID    string
}

// Validate checks that every required field is present. A miss is a
// configuration error and fatal before any network activity occurs.
func (c Credentials) Validate() error {
	switch {
	case c.Email == "":
		return configErr("ARCUS_EMAIL is required")
	case c.Password == "":
		return configErr("ARCUS_PASSWORD is required")
	case c.APIKey == "":
		return configErr("ARCUS_API_KEY is required")
	case c.KeyID == "":
		return configErr("ARCUS_KEY_ID is required")
	}
	return nil
}

// HashPassword transforms the plaintext password into the digest the Arcus
// login endpoint expects: MD5 applied three times, each pass over the
// previous lowercase-hex digest string. This is the service's fixed wire
// format, not a password-storage scheme.
func HashPassword(plaintext string) string {
	digest := plaintext
	for i := 0; i < 3; i++ {
		sum := md5.Sum([]byte(digest)) //nolint:gosec
		digest = hex.EncodeToString(sum[:])
	}
	return digest
}
