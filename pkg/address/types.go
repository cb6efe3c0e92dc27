// Package address maps raw G-NAF rows into structured, display-ready
// address documents for the search index.
package address

import "errors"

// ErrTooManyLines signals a structured address whose components would
// format to more than four lines. That is corrupt input, not something to
// truncate quietly.
var ErrTooManyLines = errors.New("address: multiline address exceeds 4 lines")

// ErrUnexpectedField signals a non-empty value in a field the supported
// G-NAF generation defines as always empty. The mapping has not been
// validated against such data, so the run must stop.
var ErrUnexpectedField = errors.New("address: unexpected value in reserved geocode field")

// Code is an authority-coded value with its decoded display name.
type Code struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// NumberPart is one prefix/number/suffix component.
type NumberPart struct {
	Prefix string `json:"prefix,omitempty"`
	Number string `json:"number,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// Number is a street number, optionally ranged (10-12).
type Number struct {
	NumberPart
	Last *NumberPart `json:"last,omitempty"`
}

// TypedNumber is a numbered component with an authority-coded type, used
// for levels (LEVEL 2) and flats (UNIT 5).
type TypedNumber struct {
	Type Code `json:"type"`
	NumberPart
}

// Street is a street name with decoded type and suffix.
type Street struct {
	Name   string `json:"name"`
	Type   *Code  `json:"type,omitempty"`
	Suffix *Code  `json:"suffix,omitempty"`
}

// Locality is a locality name with decoded class.
type Locality struct {
	Name  string `json:"name"`
	Class *Code  `json:"class,omitempty"`
}

// State is a state name and abbreviation.
type State struct {
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

// Structured is the canonical normalized form of one address detail.
type Structured struct {
	BuildingName string       `json:"buildingName,omitempty"`
	Level        *TypedNumber `json:"level,omitempty"`
	Flat         *TypedNumber `json:"flat,omitempty"`
	LotNumber    *NumberPart  `json:"lotNumber,omitempty"`
	Number       *Number      `json:"number,omitempty"`
	Street       *Street      `json:"street,omitempty"`
	Locality     *Locality    `json:"locality,omitempty"`
	State        State        `json:"state"`
	Postcode     string       `json:"postcode,omitempty"`
	Confidence   int          `json:"confidence"`
}

// Geocode is one geographic reference for an address.
type Geocode struct {
	Default     bool    `json:"default"`
	Type        *Code   `json:"type,omitempty"`
	Reliability *Code   `json:"reliability,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Details is the full mapped form of one address detail row.
type Details struct {
	PID        string     `json:"pid"`
	Structured Structured `json:"structured"`
	MLA        []string   `json:"mla"`            // 1-4 display lines
	SLA        string     `json:"sla"`            // comma-joined MLA
	SMLA       []string   `json:"smla,omitempty"` // short variant for unit addresses
	SSLA       string     `json:"ssla,omitempty"`
	Precedence string     `json:"precedence,omitempty"` // primary or secondary
	Geocoding  []Geocode  `json:"geocoding,omitempty"`
}

// Document is the persisted index shape of one address. Confidence is
// lifted to the top level for sorting, and the hash lets readers use the
// document as an ETag and lets reloads detect unchanged rows.
type Document struct {
	PID          string     `json:"pid"`
	SLA          string     `json:"sla"`
	SSLA         string     `json:"ssla,omitempty"`
	Structured   Structured `json:"structured"`
	Confidence   int        `json:"confidence"`
	Geocoding    []Geocode  `json:"geocoding,omitempty"`
	DocumentHash string     `json:"documentHash"`
}

// DocumentID is the stable store key for a PID.
func DocumentID(pid string) string {
	return "/addresses/" + pid
}

// ToDocument converts mapped details into the persisted index shape,
// computing the content hash.
func (d *Details) ToDocument() Document {
	doc := Document{
		PID:        d.PID,
		SLA:        d.SLA,
		SSLA:       d.SSLA,
		Structured: d.Structured,
		Confidence: d.Structured.Confidence,
		Geocoding:  d.Geocoding,
	}
	doc.DocumentHash = Hash(&doc)
	return doc
}
