package cap

import "strings"

const urnPrefix = "urn:oid:"

// StripURN removes the urn:oid: prefix from an alert identifier.
func StripURN(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), urnPrefix)
}

// ParseReferences decodes a CAP reference list. Tokens are space separated;
// a sender,identifier,sent triple contributes its identifier (urn stripped),
// anything else contributes its first comma separated component.
func ParseReferences(s string) []string {
	tokens := strings.Fields(s)
	refs := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.Split(tok, ",")
		if len(parts) == 3 {
			refs = append(refs, StripURN(parts[1]))
			continue
		}
		refs = append(refs, parts[0])
	}
	return refs
}

// JoinReferences renders a reference list the way it is stored in a row.
func JoinReferences(s string) string {
	return strings.Join(ParseReferences(s), ",")
}
