package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"gorm.io/gorm"
)

const (
	codeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	GroupCodeLength  = 8
	InviteCodeLength = 10

	DefaultCodeRetryLimit = 5
)

// CodeGenerator draws random share codes. The unique index on the code column is the
// uniqueness check: InsertWithCode retries on a duplicate key instead of probing first.
type CodeGenerator struct {
	RetryLimit int
	// Draw can be swapped in tests to force collisions.
	Draw func(length int) (string, error)
}

func NewCodeGenerator(retryLimit int) *CodeGenerator {
	if retryLimit < 1 {
		retryLimit = DefaultCodeRetryLimit
	}
	return &CodeGenerator{RetryLimit: retryLimit, Draw: RandomCode}
}

// RandomCode returns a crypto-random code over A-Z0-9.
func RandomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and uppercases a user-supplied code so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InsertWithCode calls insert with fresh codes until it stops failing with gorm.ErrDuplicatedKey.
// insert must run inside a savepoint (tx.SavePoint / nested Transaction) when used in a larger
// transaction, so a failed attempt does not poison the outer one on postgres.
func (g *CodeGenerator) InsertWithCode(length int, insert func(code string) error) (string, error) {
	for attempt := 0; attempt < g.RetryLimit; attempt++ {
		code, err := g.Draw(length)
		if err != nil {
			return "", fmt.Errorf("draw code: %w", err)
		}
		err = insert(code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free code after %d attempts", ErrConflict, g.RetryLimit)
}
