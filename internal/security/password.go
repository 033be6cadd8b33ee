package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrHashing = errors.New("password hashing failed")

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

// PasswordHasher hashes and verifies passwords with argon2id. It holds no
// mutable state and is safe for concurrent use.
type PasswordHasher struct {
	params Argon2Params
	decoy  string
}

func NewPasswordHasher(params Argon2Params) (*PasswordHasher, error) {
	if params.KeyLen == 0 {
		params.KeyLen = DefaultArgon2Params.KeyLen
	}
	if params.SaltLen == 0 {
		params.SaltLen = DefaultArgon2Params.SaltLen
	}
	if params.Time < 1 || params.Threads < 1 || params.Memory < 8*uint32(params.Threads) {
		return nil, fmt.Errorf("%w: invalid argon2 parameters t=%d m=%d p=%d", ErrHashing, params.Time, params.Memory, params.Threads)
	}

	h := &PasswordHasher{params: params}

	// The decoy is verified against when no user matches, so unknown and
	// known emails cost the same.
	decoy, err := h.Hash("decoy-password")
	if err != nil {
		return nil, err
	}
	ok, err := h.Verify("decoy-password", decoy)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: self test failed", ErrHashing)
	}
	h.decoy = decoy

	return h, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", ErrHashing)
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: generate salt: %v", ErrHashing, err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password against an encoded hash in constant time. The
// parameters embedded in encoded win over the hasher's own, so hashes made
// under an older work factor keep verifying.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

// VerifyDecoy burns the same work as a real Verify and always fails.
func (h *PasswordHasher) VerifyDecoy(password string) {
	_, _ = h.Verify(password+"\x00", h.decoy)
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unrecognised hash format", ErrHashing)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported argon2 version", ErrHashing)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: parse params: %v", ErrHashing, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: decode salt: %v", ErrHashing, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: decode hash: %v", ErrHashing, err)
	}

	if params.Time < 1 || params.Threads < 1 || params.Memory < 8*uint32(params.Threads) {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: argon2 parameters out of range", ErrHashing)
	}
	if len(salt) == 0 || len(key) == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: empty salt or hash", ErrHashing)
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
