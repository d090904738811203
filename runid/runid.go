// Package runid mints a short random identifier for one engine run, used
// to correlate log lines across a single capture pass.
package runid

import (
	"math/big"

	"github.com/google/uuid"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// RunID is a base62 rendering of a random UUID: shorter to eyeball in logs
// than the canonical hyphenated form, with no structural meaning beyond
// identity.
type RunID string

// New mints a fresh RunID.
func New() RunID {
	return RunID(encode(uuid.New()))
}

func encode(id uuid.UUID) string {
	n := new(big.Int).SetBytes(id[:])
	if n.Sign() == 0 {
		return string(alphabet[0])
	}

	base := big.NewInt(int64(len(alphabet)))
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, alphabet[mod.Int64()])
	}
	// reverse into most-significant-digit-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
