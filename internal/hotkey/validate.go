package hotkey

import "fmt"

// NonASCII is a character the key injector cannot type.
type NonASCII struct {
	Index int // rune index in the original string
	Char  rune
}

func (n NonASCII) String() string {
	return fmt.Sprintf("%q at position %d", n.Char, n.Index)
}

// ValidateASCII returns every non-ASCII character in value.
// It never rejects the value; callers surface the findings as warnings.
func ValidateASCII(value string) []NonASCII {
	var found []NonASCII
	for i, r := range []rune(value) {
		if r > 127 {
			found = append(found, NonASCII{Index: i, Char: r})
		}
	}
	return found
}
