package authz

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type argonParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
}

// Cost for hashes we derive ourselves; encoded hashes carry their own.
var defaultArgonParams = argonParams{
	time:    3,
	memory:  64 * 1024,
	threads: 1,
	keyLen:  32,
}

// AdminPassword verifies the operator password for interactive login. It is
// built either from a standard argon2id encoded hash or, for dev setups, from
// a plaintext password hashed once at startup so every comparison afterwards
// is against a derived key.
type AdminPassword struct {
	params argonParams
	salt   []byte
	hash   []byte
}

func NewAdminPasswordFromHash(encoded string) (*AdminPassword, error) {
	// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errors.New("unsupported password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("parse hash version: %w", err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}
	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, fmt.Errorf("parse hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	p.keyLen = uint32(len(hash))
	return &AdminPassword{params: p, salt: salt, hash: hash}, nil
}

func NewAdminPasswordFromPlain(plain string) (*AdminPassword, error) {
	if plain == "" {
		return nil, errors.New("empty admin password")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	p := defaultArgonParams
	hash := argon2.IDKey([]byte(plain), salt, p.time, p.memory, p.threads, p.keyLen)
	return &AdminPassword{params: p, salt: salt, hash: hash}, nil
}

// Verify compares in constant time over the derived keys.
func (a *AdminPassword) Verify(password string) bool {
	if a == nil {
		return false
	}
	calc := argon2.IDKey([]byte(password), a.salt, a.params.time, a.params.memory, a.params.threads, a.params.keyLen)
	return subtle.ConstantTimeCompare(calc, a.hash) == 1
}
