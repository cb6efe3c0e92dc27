// ABOUTME: Tests that the document content hash is deterministic and
// ABOUTME: sensitive to every field it covers

package address

import "testing"

func sampleDocument() Document {
	st := Code{Code: "ST", Name: "STREET"}
	return Document{
		PID:  "GAVIC1",
		SLA:  "10 SMITH STREET, FITZROY VIC 3065",
		SSLA: "",
		Structured: Structured{
			Number:   &Number{NumberPart: NumberPart{Number: "10"}},
			Street:   &Street{Name: "SMITH", Type: &st},
			Locality: &Locality{Name: "FITZROY"},
			State:    State{Name: "Victoria", Abbreviation: "VIC"},
			Postcode: "3065",
			Confidence: 2,
		},
		Confidence: 2,
		Geocoding: []Geocode{
			{Default: true, Type: &Code{Code: "PC"}, Latitude: -37.80, Longitude: 144.98},
		},
	}
}

func TestHashDeterministic(t *testing.T) {
	a, b := sampleDocument(), sampleDocument()
	if Hash(&a) != Hash(&b) {
		t.Fatalf("equal documents hashed differently")
	}
	if got := Hash(&a); len(got) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(got))
	}
}

func TestHashIgnoresItself(t *testing.T) {
	a := sampleDocument()
	b := sampleDocument()
	b.DocumentHash = "deadbeef"
	if Hash(&a) != Hash(&b) {
		t.Fatalf("hash depends on DocumentHash field")
	}
}

func TestHashChangesOnFieldChange(t *testing.T) {
	base := Hash(ptr(sampleDocument()))

	mutations := map[string]func(*Document){
		"pid":        func(d *Document) { d.PID = "GAVIC2" },
		"sla":        func(d *Document) { d.SLA = "11 SMITH STREET, FITZROY VIC 3065" },
		"postcode":   func(d *Document) { d.Structured.Postcode = "3066" },
		"confidence": func(d *Document) { d.Confidence = 3 },
		"geo-lat":    func(d *Document) { d.Geocoding[0].Latitude = -37.81 },
		"geo-default": func(d *Document) { d.Geocoding[0].Default = false },
		"street-nil": func(d *Document) { d.Structured.Street = nil },
	}
	for name, mutate := range mutations {
		d := sampleDocument()
		mutate(&d)
		if Hash(&d) == base {
			t.Fatalf("%s: mutation did not change hash", name)
		}
	}
}

func TestToDocumentSetsHash(t *testing.T) {
	details := &Details{
		PID: "GAVIC1",
		SLA: "10 SMITH STREET, FITZROY VIC 3065",
		Structured: Structured{
			State:      State{Name: "Victoria", Abbreviation: "VIC"},
			Confidence: 2,
		},
	}
	doc := details.ToDocument()
	if doc.DocumentHash == "" {
		t.Fatalf("hash not computed")
	}
	if doc.Confidence != 2 {
		t.Fatalf("confidence not lifted: %d", doc.Confidence)
	}
	if doc.DocumentHash != Hash(&doc) {
		t.Fatalf("stored hash does not match recomputation")
	}
}

func ptr(d Document) *Document { return &d }
