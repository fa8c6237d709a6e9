package models

import (
	"fmt"

	"fieldsync/pkg/crypto"
)

// ParentLinkKind tells whether an envelope was authored or only created to
// satisfy a parent chain.
type ParentLinkKind uint8

const (
	ParentLinkNone ParentLinkKind = iota
	ParentLinkReal
	ParentLinkFake
)

func (k ParentLinkKind) String() string {
	switch k {
	case ParentLinkReal:
		return "real"
	case ParentLinkFake:
		return "fake"
	default:
		return "none"
	}
}

func (k ParentLinkKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ParentLinkKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "real":
		*k = ParentLinkReal
	case "fake":
		*k = ParentLinkFake
	case "none", "":
		*k = ParentLinkNone
	default:
		return fmt.Errorf("unknown parent link kind %q", string(b))
	}
	return nil
}

// EnvelopeKeys are the plaintext index values of an envelope.
type EnvelopeKeys struct {
	Form   string         `json:"form,omitempty"`
	Parent string         `json:"parent,omitempty"`
	Link   ParentLinkKind `json:"link"`
	Anchor string         `json:"anchor,omitempty"`
	Sync   string         `json:"sync,omitempty"`
}

// Envelope is the stored form of a record: index keys plus the sealed entry.
type Envelope struct {
	Keys EnvelopeKeys  `json:"keys"`
	Enc  crypto.Sealed `json:"enc"`
}
