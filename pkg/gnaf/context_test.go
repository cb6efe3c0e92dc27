// ABOUTME: Tests for the relational join context
// ABOUTME: Verifies authority decoding and per-state index isolation

package gnaf

import "testing"

func TestDecodeWithFallback(t *testing.T) {
	c := NewJoinContext()
	c.LoadAuthorityTable(TableStreetType, []AuthorityCodeRow{
		{Code: "ST", Name: "STREET"},
		{Code: "RD", Name: "ROAD"},
	})

	if name, ok := c.Decode(TableStreetType, "ST"); !ok || name != "STREET" {
		t.Fatalf("Decode(ST) = %q, %v", name, ok)
	}

	// Unknown code falls back to the code itself.
	if name, ok := c.Decode(TableStreetType, "XX"); ok || name != "XX" {
		t.Fatalf("Decode(XX) = %q, %v", name, ok)
	}

	// Unknown table behaves the same.
	if name, ok := c.Decode("NO_SUCH_AUT", "ST"); ok || name != "ST" {
		t.Fatalf("Decode on missing table = %q, %v", name, ok)
	}

	// Empty code is absent, not a fallback.
	if name, ok := c.Decode(TableStreetType, ""); ok || name != "" {
		t.Fatalf("Decode(\"\") = %q, %v", name, ok)
	}
}

func TestBeginStateIsolatesIndexes(t *testing.T) {
	c := NewJoinContext()

	c.BeginState("NSW", "New South Wales")
	c.IndexStreetLocalities([]StreetLocalityRow{{StreetLocalityPID: "sl1", StreetName: "SMITH"}})
	c.IndexLocalities([]LocalityRow{{LocalityPID: "loc1", LocalityName: "SYDNEY"}})

	// Hold a reference across the state boundary; it must not observe the
	// next state's rows.
	if _, ok := c.StreetLocality("sl1"); !ok {
		t.Fatalf("sl1 missing in NSW")
	}

	c.BeginState("VIC", "Victoria")
	if _, ok := c.StreetLocality("sl1"); ok {
		t.Fatalf("NSW street PID leaked into VIC")
	}
	if c.State != "VIC" {
		t.Fatalf("state = %s", c.State)
	}

	c.IndexStreetLocalities([]StreetLocalityRow{{StreetLocalityPID: "sl1", StreetName: "JONES"}})
	r, _ := c.StreetLocality("sl1")
	if r.StreetName != "JONES" {
		t.Fatalf("VIC sl1 = %+v", r)
	}
}

func TestGeocodeIndexesAppend(t *testing.T) {
	c := NewJoinContext()
	c.BeginState("NSW", "New South Wales")

	c.IndexSiteGeocodes([]SiteGeocodeRow{
		{AddressSitePID: "site1", GeocodeTypeCode: "FC"},
		{AddressSitePID: "site1", GeocodeTypeCode: "PC"},
	})
	if got := len(c.SiteGeocodes("site1")); got != 2 {
		t.Fatalf("site geocodes = %d, want 2", got)
	}

	c.IndexDefaultGeocodes([]DefaultGeocodeRow{{AddressDetailPID: "GANSW1", GeocodeTypeCode: "FC"}})
	if got := len(c.DefaultGeocodes("GANSW1")); got != 1 {
		t.Fatalf("default geocodes = %d, want 1", got)
	}
	if c.DefaultGeocodes("missing") != nil {
		t.Fatalf("missing detail PID must return nil")
	}
}
