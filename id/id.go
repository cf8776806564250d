// Package id defines the TypeID-based identifiers of runs, checkpoints,
// signals, unresolved compensations and stream subscribers.
//
// An ID renders as "prefix_suffix" where the suffix is a UUIDv7, so IDs of
// one kind sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of entity an ID refers to.
type Prefix string

const (
	PrefixRun          Prefix = "run"
	PrefixCheckpoint   Prefix = "ckpt"
	PrefixSignal       Prefix = "sig"
	PrefixCompensation Prefix = "comp"
	PrefixSubscriber   Prefix = "sub"
)

// ID is a prefixed, K-sortable identifier. The zero value is Nil and
// encodes as an empty string or SQL NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the zero ID.
var Nil ID

// Kind-specific aliases. They document intent at call sites; the prefix is
// checked by the matching Parse function, not by the type system.
type (
	RunID          = ID
	CheckpointID   = ID
	SignalID       = ID
	CompensationID = ID
	SubscriberID   = ID
)

// New generates an ID with prefix. An invalid prefix is a programming
// error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, ok: true}
}

func NewRunID() RunID                   { return New(PrefixRun) }
func NewCheckpointID() CheckpointID     { return New(PrefixCheckpoint) }
func NewSignalID() SignalID             { return New(PrefixSignal) }
func NewCompensationID() CompensationID { return New(PrefixCompensation) }
func NewSubscriberID() SubscriberID     { return New(PrefixSubscriber) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty id")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseWithPrefix parses s and requires its prefix to be want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, want)
	}
	return v, nil
}

func ParseRunID(s string) (RunID, error)       { return ParseWithPrefix(s, PrefixRun) }
func ParseCheckpointID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixCheckpoint) }
func ParseSignalID(s string) (SignalID, error) { return ParseWithPrefix(s, PrefixSignal) }
func ParseCompensationID(s string) (CompensationID, error) {
	return ParseWithPrefix(s, PrefixCompensation)
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the kind of i, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.ok }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.ok {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.String(), nil
}

// Scan implements sql.Scanner for text and NULL columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	}
	return fmt.Errorf("id: cannot scan %T", src)
}
