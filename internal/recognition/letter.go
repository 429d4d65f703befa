package recognition

import (
	"strings"
	"unicode"
)

// Letter is a single recognized sign, normalized to uppercase. The zero value means no letter.
type Letter string

// None is the absent letter.
const None Letter = ""

// SupportedSigns lists the classes the bundled models are trained on.
var SupportedSigns = []Letter{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
}

// Valid reports whether l is a non-empty letter.
func (l Letter) Valid() bool { return l != None }

func (l Letter) String() string { return string(l) }

// ExtractLetter derives a letter from a raw classifier label such as "A", "Letter_B (closed fist)"
// or "5". It returns None for blank labels.
func ExtractLetter(label string) Letter {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return None
	}
	if len([]rune(trimmed)) == 1 {
		return Letter(strings.ToUpper(trimmed))
	}

	tokens := strings.FieldsFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if len([]rune(tok)) == 1 {
			return Letter(strings.ToUpper(tok))
		}
	}

	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			return Letter(strings.ToUpper(string(r)))
		}
	}
	return Letter(strings.ToUpper(trimmed))
}
