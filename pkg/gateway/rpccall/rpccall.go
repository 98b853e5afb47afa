// Package rpccall parses finishConversation payloads arriving over the
// room data channel. The remote agent is not trusted to produce clean
// JSON: arguments may arrive as an object, as a JSON-encoded string, or
// as malformed text the fields must be scraped out of. A parse never
// fails outright; every outcome yields usable identity values.
package rpccall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Sentinel identity values used when the payload does not yield real
// names. They keep the pipeline moving instead of stalling it.
const (
	FallbackCompanyName = "Empresa Sin Nombre"
	FallbackOwnerName   = "Usuario"
)

// Identity is the pair the agent reports when it ends the interview.
type Identity struct {
	CompanyName string `json:"companyName"`
	OwnerName   string `json:"ownerName"`
}

// Result is a tagged parse outcome: either the payload decoded cleanly
// (Parsed) or it did not and the fields were recovered by fallback
// extraction from the raw text (Malformed).
type Result struct {
	Identity Identity
	// Malformed is set when structured decoding failed and RawText holds
	// the original payload the identity was scraped from.
	Malformed bool
	RawText   string
}

var (
	companyPattern = regexp.MustCompile(`"?companyName"?\s*[:=]\s*"([^"]*)"`)
	ownerPattern   = regexp.MustCompile(`"?ownerName"?\s*[:=]\s*"([^"]*)"`)
)

// Parse decodes a finishConversation argument payload. Decoding is tried
// in order: JSON object, JSON string wrapping an object, then regex
// extraction over the raw text. Missing or empty names fall back to the
// sentinels.
func Parse(raw []byte) Result {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Result{Identity: fallbackIdentity(), Malformed: true, RawText: text}
	}

	if id, ok := decodeObject([]byte(text)); ok {
		return Result{Identity: withFallbacks(id)}
	}

	// Some agents double-encode: a JSON string whose contents are the
	// real object.
	var inner string
	if err := json.Unmarshal([]byte(text), &inner); err == nil {
		if id, ok := decodeObject([]byte(inner)); ok {
			return Result{Identity: withFallbacks(id)}
		}
		text = inner
	}

	return Result{Identity: withFallbacks(scrape(text)), Malformed: true, RawText: text}
}

func decodeObject(raw []byte) (Identity, bool) {
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false
	}
	return id, true
}

func scrape(text string) Identity {
	var id Identity
	if m := companyPattern.FindStringSubmatch(text); m != nil {
		id.CompanyName = m[1]
	}
	if m := ownerPattern.FindStringSubmatch(text); m != nil {
		id.OwnerName = m[1]
	}
	return id
}

func withFallbacks(id Identity) Identity {
	if strings.TrimSpace(id.CompanyName) == "" {
		id.CompanyName = FallbackCompanyName
	}
	if strings.TrimSpace(id.OwnerName) == "" {
		id.OwnerName = FallbackOwnerName
	}
	return id
}

func fallbackIdentity() Identity {
	return Identity{CompanyName: FallbackCompanyName, OwnerName: FallbackOwnerName}
}
