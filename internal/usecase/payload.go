package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

const percentPrefix = "on#"

// ParsePayload parses a raw command. Matching is case-insensitive and
// ignores surrounding whitespace. "on#n" requires n to be a whole integer
// inside rng.
func ParsePayload(raw string, rng domain.PercentRange) (domain.Payload, error) {
	cmd := strings.ToLower(strings.TrimSpace(raw))

	switch cmd {
	case "on":
		return domain.Payload{Kind: domain.PayloadOn}, nil
	case "off":
		return domain.Payload{Kind: domain.PayloadOff}, nil
	case "pause":
		return domain.Payload{Kind: domain.PayloadPause}, nil
	}

	if !strings.HasPrefix(cmd, percentPrefix) {
		return domain.Payload{}, &domain.ParseError{Payload: raw, Reason: "unrecognized command"}
	}

	digits := strings.TrimPrefix(cmd, percentPrefix)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return domain.Payload{}, &domain.ParseError{Payload: raw, Reason: "value is not an integer"}
	}
	if !rng.Contains(n) {
		return domain.Payload{}, &domain.ParseError{
			Payload: raw,
			Reason:  fmt.Sprintf("value %d outside range [%d,%d]", n, rng.Min, rng.Max),
		}
	}
	return domain.Payload{Kind: domain.PayloadOnPercent, Percent: n, Range: rng}, nil
}
