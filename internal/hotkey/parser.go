package hotkey

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Step is one key event in a plan. Delayed steps wait Sequence.Delay first.
type Step struct {
	domain.HotkeyToken
	Delayed bool
}

// Sequence is a fully resolved hotkey plan.
type Sequence struct {
	Steps []Step
	Held  []string // modifiers held for the whole sequence, in press order
	Delay time.Duration
}

// Empty reports whether the sequence does nothing.
func (s Sequence) Empty() bool {
	return len(s.Steps) == 0
}

// Tokens returns the key events without delay markers.
func (s Sequence) Tokens() []domain.HotkeyToken {
	out := make([]domain.HotkeyToken, len(s.Steps))
	for i, st := range s.Steps {
		out[i] = st.HotkeyToken
	}
	return out
}

var suffixes = []struct {
	suffix string
	op     domain.KeyOp
}{
	{"{down}", domain.KeyDown},
	{"{up}", domain.KeyUp},
	{"_down", domain.KeyDown},
	{"_up", domain.KeyUp},
}

type rawToken struct {
	key string
	op  domain.KeyOp
}

// Parse turns a hotkey string into a sequence.
//
// Without '+' every non-space character is pressed on its own.
// With '+' the string is a list of keys; modifiers without a suffix are
// held for the whole sequence, suffixed keys go down or up in place,
// purely alphabetic keys are typed letter by letter.
func Parse(spec string, delay time.Duration) Sequence {
	if delay < 0 {
		delay = 0
	}
	seq := Sequence{Delay: delay}

	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, spec)
	if compact == "" {
		return seq
	}

	if !strings.Contains(compact, "+") {
		for i, r := range []rune(compact) {
			seq.Steps = append(seq.Steps, Step{
				HotkeyToken: domain.HotkeyToken{Key: strings.ToLower(string(r)), Op: domain.KeyPress},
				Delayed:     i > 0,
			})
		}
		return seq
	}

	tokens := splitTokens(compact)
	if len(tokens) == 0 {
		return seq
	}

	seen := make(map[string]bool)
	for _, t := range tokens {
		if IsModifier(t.key) && t.op == domain.KeyPress && !seen[t.key] {
			seen[t.key] = true
			seq.Held = append(seq.Held, t.key)
		}
	}
	sort.SliceStable(seq.Held, func(i, j int) bool {
		return modifierPriority[seq.Held[i]] < modifierPriority[seq.Held[j]]
	})

	releaseAtEnd := make(map[string]bool, len(seq.Held))
	for _, m := range seq.Held {
		seq.add(m, domain.KeyDown, false)
		releaseAtEnd[m] = true
	}

	explicitDown := make(map[string]bool)
	for _, t := range tokens {
		if IsModifier(t.key) {
			switch t.op {
			case domain.KeyPress:
				// already held
			case domain.KeyDown:
				if !seen[t.key] && !explicitDown[t.key] {
					seq.add(t.key, domain.KeyDown, false)
					explicitDown[t.key] = true
				}
			case domain.KeyUp:
				if releaseAtEnd[t.key] {
					seq.add(t.key, domain.KeyUp, false)
					delete(releaseAtEnd, t.key)
				} else if explicitDown[t.key] {
					seq.add(t.key, domain.KeyUp, false)
					delete(explicitDown, t.key)
				}
			}
			continue
		}

		if t.op != domain.KeyPress {
			seq.add(t.key, t.op, false)
			continue
		}
		if isAlpha(t.key) {
			for i, r := range []rune(t.key) {
				seq.add(string(r), domain.KeyPress, i > 0)
			}
			continue
		}
		seq.add(t.key, domain.KeyPress, false)
	}

	for i := len(seq.Held) - 1; i >= 0; i-- {
		m := seq.Held[i]
		if releaseAtEnd[m] {
			seq.add(m, domain.KeyUp, false)
		}
	}
	return seq
}

func (s *Sequence) add(key string, op domain.KeyOp, delayed bool) {
	s.Steps = append(s.Steps, Step{
		HotkeyToken: domain.HotkeyToken{Key: key, Op: op},
		Delayed:     delayed,
	})
}

func splitTokens(compact string) []rawToken {
	var out []rawToken
	for _, part := range strings.Split(compact, "+") {
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		op := domain.KeyPress
		for _, s := range suffixes {
			if strings.HasSuffix(lower, s.suffix) && len(lower) > len(s.suffix) {
				lower = strings.TrimSuffix(lower, s.suffix)
				op = s.op
				break
			}
		}
		out = append(out, rawToken{key: Normalize(lower), op: op})
	}
	return out
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
