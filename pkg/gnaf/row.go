// Package gnaf parses the pipe-delimited G-NAF distribution files and holds
// the in-memory relational joins the address mapper depends on.
//
// Raw rows keep the source convention exactly: every field is a string and
// the empty string means absent. One fixed-schema struct exists per file
// family rather than a dynamic map, so a missing column is a parse-time
// error instead of a silent empty lookup.
package gnaf

import "fmt"

// headerIndex maps column names to positions for one file's header row.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	ix := make(headerIndex, len(header))
	for i, name := range header {
		ix[name] = i
	}
	return ix
}

// get returns the named column of fields, or "" when the column is absent
// or the row is short. Short rows happen on the last line of some files.
func (ix headerIndex) get(fields []string, col string) string {
	i, ok := ix[col]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func (ix headerIndex) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := ix[c]; !ok {
			return fmt.Errorf("gnaf: missing required column %s", c)
		}
	}
	return nil
}

// AddressDetailRow is one record of an ADDRESS_DETAIL file.
type AddressDetailRow struct {
	AddressDetailPID   string
	DateRetired        string
	BuildingName       string
	LotNumberPrefix    string
	LotNumber          string
	LotNumberSuffix    string
	FlatTypeCode       string
	FlatNumberPrefix   string
	FlatNumber         string
	FlatNumberSuffix   string
	LevelTypeCode      string
	LevelNumberPrefix  string
	LevelNumber        string
	LevelNumberSuffix  string
	NumberFirstPrefix  string
	NumberFirst        string
	NumberFirstSuffix  string
	NumberLastPrefix   string
	NumberLast         string
	NumberLastSuffix   string
	StreetLocalityPID  string
	LocalityPID        string
	Postcode           string
	Confidence         string
	AddressSitePID     string
	PrimarySecondary   string
}

func addressDetailFromFields(ix headerIndex, f []string) AddressDetailRow {
	return AddressDetailRow{
		AddressDetailPID:  ix.get(f, "ADDRESS_DETAIL_PID"),
		DateRetired:       ix.get(f, "DATE_RETIRED"),
		BuildingName:      ix.get(f, "BUILDING_NAME"),
		LotNumberPrefix:   ix.get(f, "LOT_NUMBER_PREFIX"),
		LotNumber:         ix.get(f, "LOT_NUMBER"),
		LotNumberSuffix:   ix.get(f, "LOT_NUMBER_SUFFIX"),
		FlatTypeCode:      ix.get(f, "FLAT_TYPE_CODE"),
		FlatNumberPrefix:  ix.get(f, "FLAT_NUMBER_PREFIX"),
		FlatNumber:        ix.get(f, "FLAT_NUMBER"),
		FlatNumberSuffix:  ix.get(f, "FLAT_NUMBER_SUFFIX"),
		LevelTypeCode:     ix.get(f, "LEVEL_TYPE_CODE"),
		LevelNumberPrefix: ix.get(f, "LEVEL_NUMBER_PREFIX"),
		LevelNumber:       ix.get(f, "LEVEL_NUMBER"),
		LevelNumberSuffix: ix.get(f, "LEVEL_NUMBER_SUFFIX"),
		NumberFirstPrefix: ix.get(f, "NUMBER_FIRST_PREFIX"),
		NumberFirst:       ix.get(f, "NUMBER_FIRST"),
		NumberFirstSuffix: ix.get(f, "NUMBER_FIRST_SUFFIX"),
		NumberLastPrefix:  ix.get(f, "NUMBER_LAST_PREFIX"),
		NumberLast:        ix.get(f, "NUMBER_LAST"),
		NumberLastSuffix:  ix.get(f, "NUMBER_LAST_SUFFIX"),
		StreetLocalityPID: ix.get(f, "STREET_LOCALITY_PID"),
		LocalityPID:       ix.get(f, "LOCALITY_PID"),
		Postcode:          ix.get(f, "POSTCODE"),
		Confidence:        ix.get(f, "CONFIDENCE"),
		AddressSitePID:    ix.get(f, "ADDRESS_SITE_PID"),
		PrimarySecondary:  ix.get(f, "PRIMARY_SECONDARY"),
	}
}

// StreetLocalityRow is one record of a STREET_LOCALITY file.
type StreetLocalityRow struct {
	StreetLocalityPID string
	StreetName        string
	StreetTypeCode    string
	StreetSuffixCode  string
}

func streetLocalityFromFields(ix headerIndex, f []string) StreetLocalityRow {
	return StreetLocalityRow{
		StreetLocalityPID: ix.get(f, "STREET_LOCALITY_PID"),
		StreetName:        ix.get(f, "STREET_NAME"),
		StreetTypeCode:    ix.get(f, "STREET_TYPE_CODE"),
		StreetSuffixCode:  ix.get(f, "STREET_SUFFIX_CODE"),
	}
}

// LocalityRow is one record of a LOCALITY file.
type LocalityRow struct {
	LocalityPID       string
	LocalityName      string
	LocalityClassCode string
}

func localityFromFields(ix headerIndex, f []string) LocalityRow {
	return LocalityRow{
		LocalityPID:       ix.get(f, "LOCALITY_PID"),
		LocalityName:      ix.get(f, "LOCALITY_NAME"),
		LocalityClassCode: ix.get(f, "LOCALITY_CLASS_CODE"),
	}
}

// SiteGeocodeRow is one record of an ADDRESS_SITE_GEOCODE file.
type SiteGeocodeRow struct {
	AddressSitePID         string
	GeocodeSiteName        string
	GeocodeSiteDescription string
	GeocodeTypeCode        string
	ReliabilityCode        string
	BoundaryExtent         string
	PlanimetricAccuracy    string
	Elevation              string
	Longitude              string
	Latitude               string
}

func siteGeocodeFromFields(ix headerIndex, f []string) SiteGeocodeRow {
	return SiteGeocodeRow{
		AddressSitePID:         ix.get(f, "ADDRESS_SITE_PID"),
		GeocodeSiteName:        ix.get(f, "GEOCODE_SITE_NAME"),
		GeocodeSiteDescription: ix.get(f, "GEOCODE_SITE_DESCRIPTION"),
		GeocodeTypeCode:        ix.get(f, "GEOCODE_TYPE_CODE"),
		ReliabilityCode:        ix.get(f, "RELIABILITY_CODE"),
		BoundaryExtent:         ix.get(f, "BOUNDARY_EXTENT"),
		PlanimetricAccuracy:    ix.get(f, "PLANIMETRIC_ACCURACY"),
		Elevation:              ix.get(f, "ELEVATION"),
		Longitude:              ix.get(f, "LONGITUDE"),
		Latitude:               ix.get(f, "LATITUDE"),
	}
}

// DefaultGeocodeRow is one record of an ADDRESS_DEFAULT_GEOCODE file.
type DefaultGeocodeRow struct {
	AddressDetailPID string
	GeocodeTypeCode  string
	Longitude        string
	Latitude         string
}

func defaultGeocodeFromFields(ix headerIndex, f []string) DefaultGeocodeRow {
	return DefaultGeocodeRow{
		AddressDetailPID: ix.get(f, "ADDRESS_DETAIL_PID"),
		GeocodeTypeCode:  ix.get(f, "GEOCODE_TYPE_CODE"),
		Longitude:        ix.get(f, "LONGITUDE"),
		Latitude:         ix.get(f, "LATITUDE"),
	}
}

// AuthorityCodeRow is one record of an Authority Code reference file.
type AuthorityCodeRow struct {
	Code string
	Name string
}

func authorityCodeFromFields(ix headerIndex, f []string) AuthorityCodeRow {
	return AuthorityCodeRow{
		Code: ix.get(f, "CODE"),
		Name: ix.get(f, "NAME"),
	}
}
