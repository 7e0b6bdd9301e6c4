package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
)

// RandomHex returns n random bytes encoded as a lowercase hex string of
// length 2n, used for the control IPC's per-boot auth token and for
// expanding a recipe's {generate,length} env instructions into actual
// secret values. crypto/rand is used rather than math/rand/v2 here
// because these values double as authentication material, not just
// cosmetic identifiers.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("util: read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// serviceAdjectives/serviceNouns form a short human-readable identifier
// for a newly installed service, paired with a random suffix for
// uniqueness. Collision avoidance comes from the suffix, not the
// wordlist, so the list itself stays small.
var serviceAdjectives = []string{
	"amber", "bold", "calm", "clear", "crisp", "fleet", "frost", "gold",
	"grand", "green", "iron", "keen", "light", "noble", "quick", "quiet",
	"rapid", "sharp", "silver", "solid", "steel", "storm", "swift", "vast",
}

var serviceNouns = []string{
	"arc", "bay", "beam", "brook", "cliff", "core", "crest", "dune",
	"echo", "fern", "flame", "forge", "gate", "grove", "hawk", "lake",
	"mast", "node", "path", "peak", "pulse", "rift", "spark", "spire",
}

// GenerateID returns an identifier in the form "adjective-noun-xxxx"
// where xxxx is a 4-character random hex suffix, used to assign a
// Service its id at install time.
func GenerateID() string {
	adjective := serviceAdjectives[mrand.IntN(len(serviceAdjectives))]
	noun := serviceNouns[mrand.IntN(len(serviceNouns))]
	suffix := mrand.Uint32() & 0xFFFF
	return fmt.Sprintf("%s-%s-%04x", adjective, noun, suffix)
}
