// Package dedup computes tender identities and merges candidates into the
// canonical store without ever producing two rows for the same identity.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/licitaciones/platform/pkg/common/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const keySeparator = "\x1f"

// NormalizeKey folds an identity component: accents removed, whitespace
// collapsed, upper-cased. "  Secretaría   x " and "SECRETARIA X" are equal.
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(folded), " "))
}

// IdentityHash is the sha256 of the normalized (numero, entidad, fuente) triple.
func IdentityHash(numero, entidad, fuente string) string {
	key := NormalizeKey(numero) + keySeparator + NormalizeKey(entidad) + keySeparator + NormalizeKey(fuente)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func HashTender(t *models.Tender) string {
	return IdentityHash(t.NumeroProcedimiento, t.EntidadCompradora, t.Fuente)
}

// HasIdentity reports whether every identity component survives normalization.
func HasIdentity(t *models.Tender) bool {
	return NormalizeKey(t.NumeroProcedimiento) != "" &&
		NormalizeKey(t.EntidadCompradora) != "" &&
		NormalizeKey(t.Fuente) != ""
}
