// Package fqid implements the typed identifiers used throughout the write
// path: collection names, fully-qualified object ids, and fully-qualified
// field references.
package fqid

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// KeySeparator joins the parts of a canonical identifier string.
const KeySeparator = "/"

var (
	collectionPattern = regexp.MustCompile(`^[a-z]([a-z_]*[a-z])?$`)
	idPattern         = regexp.MustCompile(`^[1-9]\d*$`)
)

// Collection is the name of a persistent collection, e.g. "meeting". It is a
// value type: two Collections are equal iff their names are equal.
type Collection string

// Valid reports whether c is a well-formed collection name.
func (c Collection) Valid() bool {
	return collectionPattern.MatchString(string(c))
}

func (c Collection) String() string {
	return string(c)
}

// FQId is a fully-qualified object id: a collection paired with a positive
// integer id. Its canonical string form is "collection/id".
type FQId struct {
	Collection Collection
	ID         uint64
}

func (f FQId) String() string {
	return strings.Join([]string{string(f.Collection), strconv.FormatUint(f.ID, 10)}, KeySeparator)
}

// Field returns the fully-qualified field reference for the given field name
// on this object.
func (f FQId) Field(name string) FQField {
	return FQField{Collection: f.Collection, ID: f.ID, Field: name}
}

// MarshalJSON encodes the id in its canonical "collection/id" wire form.
func (f FQId) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes the canonical "collection/id" wire form.
func (f *FQId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFQId(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFQId parses a "collection/id" string into an FQId.
func ParseFQId(s string) (FQId, error) {
	parts := strings.Split(s, KeySeparator)
	if len(parts) != 2 {
		return FQId{}, fmt.Errorf("fqid: malformed identifier %q", s)
	}
	if !idPattern.MatchString(parts[1]) {
		return FQId{}, fmt.Errorf("fqid: malformed id in %q", s)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return FQId{}, fmt.Errorf("fqid: malformed id in %q: %w", s, err)
	}
	return FQId{Collection: Collection(parts[0]), ID: id}, nil
}

// FQField is a fully-qualified field reference: "collection/id/field". This
// is the key used both in the locked-fields map and as a map key into the
// relation resolver's effect set.
type FQField struct {
	Collection Collection
	ID         uint64
	Field      string
}

func (f FQField) String() string {
	return strings.Join([]string{string(f.Collection), strconv.FormatUint(f.ID, 10), f.Field}, KeySeparator)
}

// FQId returns the object identifier this field belongs to.
func (f FQField) FQId() FQId {
	return FQId{Collection: f.Collection, ID: f.ID}
}

// ParseFQField parses a "collection/id/field" string into an FQField.
func ParseFQField(s string) (FQField, error) {
	parts := strings.SplitN(s, KeySeparator, 3)
	if len(parts) != 3 {
		return FQField{}, fmt.Errorf("fqfield: malformed identifier %q", s)
	}
	if !idPattern.MatchString(parts[1]) {
		return FQField{}, fmt.Errorf("fqfield: malformed id in %q", s)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return FQField{}, fmt.Errorf("fqfield: malformed id in %q: %w", s, err)
	}
	return FQField{Collection: Collection(parts[0]), ID: id, Field: parts[2]}, nil
}
