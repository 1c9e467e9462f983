package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// clientIDPrefix starts every generated MQTT client id.
const clientIDPrefix = "rcagent"

var unsafeChars = regexp.MustCompile(`[^a-z0-9-]+`)

// ClientIDGeneratorImpl implements domain.ClientIDGenerator.
type ClientIDGeneratorImpl struct {
	hostname func() (string, error)
}

// NewClientIDGenerator creates a generator keyed on the host name.
func NewClientIDGenerator() *ClientIDGeneratorImpl {
	return &ClientIDGeneratorImpl{hostname: os.Hostname}
}

// GenerateName creates a unique broker client id.
// Examples:
//   - rcagent-workstation-3f9a1c
//   - rcagent-3f9a1c (host name unavailable)
func (g *ClientIDGeneratorImpl) GenerateName() string {
	suffix := generateRandomHex(6)
	host, err := g.hostname()
	if err != nil {
		return fmt.Sprintf("%s-%s", clientIDPrefix, suffix)
	}
	host = strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(host), "-"), "-")
	if host == "" {
		return fmt.Sprintf("%s-%s", clientIDPrefix, suffix)
	}
	return fmt.Sprintf("%s-%s-%s", clientIDPrefix, host, suffix)
}

// generateRandomHex generates a random hex string of specified length.
// Falls back to uuid entropy if the system source fails.
func generateRandomHex(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:length]
	}
	return hex.EncodeToString(bytes)[:length]
}

// Ensure ClientIDGeneratorImpl implements domain.ClientIDGenerator.
var _ domain.ClientIDGenerator = (*ClientIDGeneratorImpl)(nil)
