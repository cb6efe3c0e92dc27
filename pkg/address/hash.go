// ABOUTME: Content hashing for index documents
// ABOUTME: Canonical field-order serialization so key order can never skew the hash

package address

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Hash computes the content hash of a document body. Fields are written in
// a fixed canonical order with separators, so the hash is deterministic,
// changes whenever any field value changes, and is immune to map/key-order
// differences in any JSON rendering. DocumentHash itself is excluded.
func Hash(doc *Document) string {
	h := sha256.New()
	w := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	w(doc.PID)
	w(doc.SLA)
	w(doc.SSLA)
	w(strconv.Itoa(doc.Confidence))

	s := &doc.Structured
	w(s.BuildingName)
	writeTypedNumber(w, s.Level)
	writeTypedNumber(w, s.Flat)
	writeNumberPart(w, s.LotNumber)
	if s.Number != nil {
		writeNumberPart(w, &s.Number.NumberPart)
		writeNumberPart(w, s.Number.Last)
	} else {
		w("")
	}
	if s.Street != nil {
		w(s.Street.Name)
		writeCode(w, s.Street.Type)
		writeCode(w, s.Street.Suffix)
	} else {
		w("")
	}
	if s.Locality != nil {
		w(s.Locality.Name)
		writeCode(w, s.Locality.Class)
	} else {
		w("")
	}
	w(s.State.Name)
	w(s.State.Abbreviation)
	w(s.Postcode)
	w(strconv.Itoa(s.Confidence))

	for _, g := range doc.Geocoding {
		w(strconv.FormatBool(g.Default))
		writeCode(w, g.Type)
		writeCode(w, g.Reliability)
		w(strconv.FormatFloat(g.Latitude, 'f', -1, 64))
		w(strconv.FormatFloat(g.Longitude, 'f', -1, 64))
		w(g.Description)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeCode(w func(string), c *Code) {
	if c == nil {
		w("")
		return
	}
	w(c.Code)
	w(c.Name)
}

func writeNumberPart(w func(string), n *NumberPart) {
	if n == nil {
		w("")
		return
	}
	w(n.Prefix)
	w(n.Number)
	w(n.Suffix)
}

func writeTypedNumber(w func(string), t *TypedNumber) {
	if t == nil {
		w("")
		return
	}
	w(t.Type.Code)
	w(t.Type.Name)
	w(t.Prefix)
	w(t.Number)
	w(t.Suffix)
}
