package usage

import (
	"fmt"
	"strings"
)

// =============================================================================
// IDENTITY KEY - Which title attributes decide "same title"
// =============================================================================

// IdentityField is one attribute that can take part in title identity.
type IdentityField string

const (
	FieldTitle         IdentityField = "title"
	FieldPublisher     IdentityField = "publisher"
	FieldPlatform      IdentityField = "platform"
	FieldISBN          IdentityField = "isbn"
	FieldYOP           IdentityField = "yop"
	FieldDOI           IdentityField = "doi"
	FieldProprietaryID IdentityField = "proprietary_id"
)

// Column is the title_report column holding the field.
func (f IdentityField) Column() string {
	if f == FieldPlatform {
		return "platform_id"
	}
	return string(f)
}

// IdentityKey is an ordered set of identity fields.
type IdentityKey []IdentityField

var (
	// LegacyKey is used for R4 rows, which carry no edition data.
	LegacyKey = IdentityKey{FieldTitle, FieldPublisher, FieldPlatform}

	// EditionKey is used for R5 rows so that editions of a book stay distinct.
	EditionKey = IdentityKey{FieldTitle, FieldPublisher, FieldPlatform, FieldISBN, FieldYOP}
)

// ParseIdentityKey parses a comma separated field list such as "title,publisher,platform".
func ParseIdentityKey(s string) (IdentityKey, error) {
	var key IdentityKey
	seen := make(map[IdentityField]bool)
	for _, part := range strings.Split(s, ",") {
		f := IdentityField(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FieldTitle, FieldPublisher, FieldPlatform, FieldISBN, FieldYOP, FieldDOI, FieldProprietaryID:
		default:
			return nil, fmt.Errorf("unknown identity field %q", part)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		key = append(key, f)
	}
	if !seen[FieldTitle] || !seen[FieldPlatform] {
		return nil, fmt.Errorf("identity key %q must include title and platform", s)
	}
	return key, nil
}

func (k IdentityKey) String() string {
	parts := make([]string, len(k))
	for i, f := range k {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

// Value returns the value of field f for title t.
func (t TitleEntity) Value(f IdentityField) any {
	switch f {
	case FieldTitle:
		return t.Title
	case FieldPublisher:
		return t.Publisher
	case FieldPlatform:
		return t.PlatformID
	case FieldISBN:
		return t.ISBN
	case FieldYOP:
		return t.YOP
	case FieldDOI:
		return t.DOI
	case FieldProprietaryID:
		return t.ProprietaryID
	}
	return nil
}

// TitleLookup asks a store for the title matching Candidate on the Key fields.
type TitleLookup struct {
	Key       IdentityKey
	Candidate TitleEntity
}

// Matches reports whether existing equals the candidate on every key field.
func (l TitleLookup) Matches(existing TitleEntity) bool {
	for _, f := range l.Key {
		if existing.Value(f) != l.Candidate.Value(f) {
			return false
		}
	}
	return true
}

// IdentityKeys selects a key per report generation.
type IdentityKeys struct {
	Legacy  IdentityKey
	Current IdentityKey
}

// DefaultIdentityKeys returns LegacyKey for R4 and EditionKey for R5.
func DefaultIdentityKeys() IdentityKeys {
	return IdentityKeys{Legacy: LegacyKey, Current: EditionKey}
}

// For returns the key used for rows of generation g.
func (k IdentityKeys) For(g Generation) IdentityKey {
	if g == GenerationR4 {
		return k.Legacy
	}
	return k.Current
}
