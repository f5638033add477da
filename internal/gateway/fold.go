package gateway

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// The bank's POS rejects payloads with non-ASCII buyer fields, so Turkish
// names and addresses are folded before hitting the wire.
var asciiFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Map(func(r rune) rune {
		// Dotless i carries no combining mark, NFD leaves it intact.
		switch r {
		case 'ı':
			return 'i'
		case 'I':
			return 'I'
		case 'ø':
			return 'o'
		case 'Ø':
			return 'O'
		case 'æ':
			return 'a'
		case 'Æ':
			return 'A'
		case 'ß':
			return 's'
		default:
			return r
		}
	}),
	norm.NFC,
)

// foldASCII transliterates buyer text to plain ASCII, dropping anything that
// still falls outside the printable range after folding.
func foldASCII(value string) string {
	folded, _, err := transform.String(asciiFolder, value)
	if err != nil {
		folded = value
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r > unicode.MaxASCII || r < ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
