// Package etag computes entity fingerprints for optimistic concurrency
// control. A fingerprint is a strong-ETag-shaped token derived from the
// fields that define an entity's externally visible state: identity, status,
// payload, and last-modified timestamp. Identical stored state always yields
// the identical token, and any visible change yields a different one.
package etag

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// FromParts joins the string forms of parts with "|" and returns the quoted
// hex SHA-1 digest. Nil parts contribute an empty segment, so the part list
// is positional and its length participates in the hash.
func FromParts(parts ...any) string {
	segments := make([]string, len(parts))
	for i, part := range parts {
		segments[i] = stringify(part)
	}
	digest := sha1.Sum([]byte(strings.Join(segments, "|")))
	return `"` + hex.EncodeToString(digest[:]) + `"`
}

// StripWeak removes an HTTP weak-validator prefix. Fingerprints are strong,
// but clients occasionally echo back W/ prefixed values.
func StripWeak(token string) string {
	return strings.TrimPrefix(token, "W/")
}

// Match reports whether a caller-supplied expected fingerprint matches the
// current one, ignoring a weak prefix on either side.
func Match(expected, current string) bool {
	return StripWeak(expected) == StripWeak(current)
}

func stringify(part any) string {
	switch t := part.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case *int:
		if t == nil {
			return ""
		}
		return strconv.Itoa(*t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	case []string:
		return strings.Join(t, ",")
	case json.RawMessage:
		return string(t)
	default:
		// Structured payloads hash by canonical JSON form; map keys are
		// sorted by encoding/json, so the form is deterministic.
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Rule fingerprints a rule's mutable metadata.
func Rule(r *domain.Rule) string {
	return FromParts(r.RuleID, r.Name, r.Description, r.Tags, r.ArchivedAt, r.UpdatedAt)
}

// RuleVersion fingerprints a rule version's logic, decision, and description
// state.
func RuleVersion(v *domain.RuleVersion) string {
	return FromParts(
		v.RuleVersionID,
		string(v.Status),
		v.LogicAst,
		v.Decision,
		v.Description,
		string(v.DescriptionSource),
		v.ChangeSummary,
		v.UpdatedAt,
	)
}

// Ruleset fingerprints a ruleset's mutable metadata.
func Ruleset(r *domain.Ruleset) string {
	return FromParts(r.RulesetID, r.Name, r.Description, r.Tags, r.UpdatedAt)
}

// RulesetVersion fingerprints a ruleset version's settings and lifecycle
// state.
func RulesetVersion(v *domain.RulesetVersion) string {
	return FromParts(
		v.RulesetVersionID,
		string(v.Status),
		string(v.ExecutionMode),
		[]string(v.DecisionPrecedence),
		v.UpdatedAt,
	)
}

// Entry fingerprints a ruleset entry's reference and ordering state.
func Entry(e *domain.RulesetEntry) string {
	return FromParts(e.EntryID, e.RuleVersionID, e.Enabled, e.OrderPriority, e.UpdatedAt)
}
