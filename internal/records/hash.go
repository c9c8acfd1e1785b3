package records

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashSeparator is the ASCII unit separator placed between cells.
const hashSeparator = "\x1f"

// RowHash returns a deterministic SHA-256 over a table row, used as the
// row's dedupe key next to TIMESTAMP.
//
// Canonical form:
//   - cells are joined in column order as "column=value" with 0x1f between;
//   - an absent cell is a single NUL byte, so absent differs from "";
//   - values are trimmed of surrounding whitespace.
//
// Output is lowercase hex (64 chars).
func RowHash(columns []string, cells []*string) string {
	var b strings.Builder
	b.Grow(len(columns) * 20)

	for i, col := range columns {
		if i > 0 {
			b.WriteString(hashSeparator)
		}
		b.WriteString(col)
		b.WriteByte('=')

		if i >= len(cells) || cells[i] == nil {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(strings.TrimSpace(*cells[i]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
