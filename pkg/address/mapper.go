// ABOUTME: Pure transform from raw G-NAF rows to structured address documents
// ABOUTME: Builds display lines, decodes authority codes, correlates geocodes

package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nainya/addressd/pkg/gnaf"
)

// Mapper transforms raw rows using one run's join context. It holds no
// state of its own; one instance maps every row of a run.
type Mapper struct {
	ctx *gnaf.JoinContext
}

// NewMapper creates a mapper over the given join context.
func NewMapper(ctx *gnaf.JoinContext) *Mapper {
	return &Mapper{ctx: ctx}
}

// Map transforms one address detail row. geoEnabled controls whether the
// geocode indexes are consulted.
func (m *Mapper) Map(row gnaf.AddressDetailRow, geoEnabled bool) (*Details, error) {
	structured, err := m.mapStructured(row)
	if err != nil {
		return nil, err
	}

	d := &Details{
		PID:        row.AddressDetailPID,
		Structured: *structured,
	}

	switch row.PrimarySecondary {
	case "P":
		d.Precedence = "primary"
	case "S":
		d.Precedence = "secondary"
	}

	d.MLA, err = buildMLA(structured)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %s", err, row.AddressDetailPID)
	}
	d.SLA = strings.Join(d.MLA, ", ")

	// Unit addresses also get the short form with the flat collapsed into
	// the street line (5/10 SMITH STREET).
	if structured.Flat != nil {
		d.SMLA = buildShortMLA(structured)
		d.SSLA = strings.Join(d.SMLA, ", ")
	}

	if geoEnabled {
		d.Geocoding, err = m.mapGeocodes(row)
		if err != nil {
			return nil, fmt.Errorf("pid %s: %w", row.AddressDetailPID, err)
		}
	}

	return d, nil
}

func (m *Mapper) mapStructured(row gnaf.AddressDetailRow) (*Structured, error) {
	s := &Structured{
		BuildingName: row.BuildingName,
		Postcode:     row.Postcode,
		State: State{
			Name:         m.ctx.StateName,
			Abbreviation: m.ctx.State,
		},
	}

	if row.Confidence != "" {
		conf, err := strconv.Atoi(row.Confidence)
		if err != nil {
			return nil, fmt.Errorf("address: pid %s: bad confidence %q", row.AddressDetailPID, row.Confidence)
		}
		s.Confidence = conf
	}

	if row.LevelNumber != "" || row.LevelTypeCode != "" {
		s.Level = &TypedNumber{
			Type: m.decode(gnaf.TableLevelType, row.LevelTypeCode),
			NumberPart: NumberPart{
				Prefix: row.LevelNumberPrefix,
				Number: row.LevelNumber,
				Suffix: row.LevelNumberSuffix,
			},
		}
	}

	if row.FlatNumber != "" || row.FlatTypeCode != "" {
		s.Flat = &TypedNumber{
			Type: m.decode(gnaf.TableFlatType, row.FlatTypeCode),
			NumberPart: NumberPart{
				Prefix: row.FlatNumberPrefix,
				Number: row.FlatNumber,
				Suffix: row.FlatNumberSuffix,
			},
		}
	}

	if row.LotNumber != "" {
		s.LotNumber = &NumberPart{
			Prefix: row.LotNumberPrefix,
			Number: row.LotNumber,
			Suffix: row.LotNumberSuffix,
		}
	}

	if row.NumberFirst != "" {
		s.Number = &Number{
			NumberPart: NumberPart{
				Prefix: row.NumberFirstPrefix,
				Number: row.NumberFirst,
				Suffix: row.NumberFirstSuffix,
			},
		}
		if row.NumberLast != "" {
			s.Number.Last = &NumberPart{
				Prefix: row.NumberLastPrefix,
				Number: row.NumberLast,
				Suffix: row.NumberLastSuffix,
			}
		}
	}

	if sl, ok := m.ctx.StreetLocality(row.StreetLocalityPID); ok {
		street := &Street{Name: sl.StreetName}
		if sl.StreetTypeCode != "" {
			c := m.decode(gnaf.TableStreetType, sl.StreetTypeCode)
			street.Type = &c
		}
		if sl.StreetSuffixCode != "" {
			c := m.decode(gnaf.TableStreetSuffix, sl.StreetSuffixCode)
			street.Suffix = &c
		}
		s.Street = street
	}

	if loc, ok := m.ctx.Locality(row.LocalityPID); ok {
		locality := &Locality{Name: loc.LocalityName}
		if loc.LocalityClassCode != "" {
			c := m.decode(gnaf.TableLocalityClass, loc.LocalityClassCode)
			locality.Class = &c
		}
		s.Locality = locality
	}

	return s, nil
}

// decode resolves an authority code; a missing table entry falls back to
// the raw code as the name so display strings never go blank.
func (m *Mapper) decode(table, code string) Code {
	name, _ := m.ctx.Decode(table, code)
	return Code{Code: code, Name: name}
}

// buildMLA assembles the 1-4 line display form:
//
//	[building name]
//	[level]
//	[flat]
//	<number> <street>  (always present when street data exists)
//	<locality> <state> <postcode>
//
// More than four lines means the source row combines every optional
// component, which the supported dataset generation never does.
func buildMLA(s *Structured) ([]string, error) {
	var lines []string

	if s.BuildingName != "" {
		lines = append(lines, s.BuildingName)
	}
	if s.Level != nil {
		lines = append(lines, strings.TrimSpace(s.Level.Type.Name+" "+joinPart(s.Level.NumberPart)))
	}
	if s.Flat != nil {
		lines = append(lines, strings.TrimSpace(s.Flat.Type.Name+" "+joinPart(s.Flat.NumberPart)))
	}
	if line := streetLine(s, false); line != "" {
		lines = append(lines, line)
	}
	if line := localityLine(s); line != "" {
		lines = append(lines, line)
	}

	if len(lines) > 4 {
		return nil, ErrTooManyLines
	}
	return lines, nil
}

// buildShortMLA is the unit-address variant with the flat number folded
// into the street line. It can never exceed four lines because the flat
// line is absorbed.
func buildShortMLA(s *Structured) []string {
	var lines []string
	if s.BuildingName != "" {
		lines = append(lines, s.BuildingName)
	}
	if s.Level != nil {
		lines = append(lines, strings.TrimSpace(s.Level.Type.Name+" "+joinPart(s.Level.NumberPart)))
	}
	if line := streetLine(s, true); line != "" {
		lines = append(lines, line)
	}
	if line := localityLine(s); line != "" {
		lines = append(lines, line)
	}
	return lines
}

// streetLine renders "<number> <STREET NAME> <TYPE> [<SUFFIX>]". With
// shortFlat it prepends "<flat>/" to the number. When the row has no
// street number a lot number renders as "LOT <n>".
func streetLine(s *Structured, shortFlat bool) string {
	var numberPart string
	switch {
	case s.Number != nil:
		numberPart = joinPart(s.Number.NumberPart)
		if s.Number.Last != nil {
			numberPart += "-" + joinPart(*s.Number.Last)
		}
	case s.LotNumber != nil:
		numberPart = "LOT " + joinPart(*s.LotNumber)
	}

	if shortFlat && s.Flat != nil && numberPart != "" {
		numberPart = joinPart(s.Flat.NumberPart) + "/" + numberPart
	}

	var sb strings.Builder
	if numberPart != "" {
		sb.WriteString(numberPart)
	}
	if s.Street != nil && s.Street.Name != "" {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s.Street.Name)
		if s.Street.Type != nil && s.Street.Type.Name != "" {
			sb.WriteByte(' ')
			sb.WriteString(s.Street.Type.Name)
		}
		if s.Street.Suffix != nil && s.Street.Suffix.Name != "" {
			sb.WriteByte(' ')
			sb.WriteString(s.Street.Suffix.Name)
		}
	}
	return sb.String()
}

func localityLine(s *Structured) string {
	var parts []string
	if s.Locality != nil && s.Locality.Name != "" {
		parts = append(parts, s.Locality.Name)
	}
	if s.State.Abbreviation != "" {
		parts = append(parts, s.State.Abbreviation)
	}
	if s.Postcode != "" {
		parts = append(parts, s.Postcode)
	}
	return strings.Join(parts, " ")
}

func joinPart(p NumberPart) string {
	return p.Prefix + p.Number + p.Suffix
}

// mapGeocodes correlates site geocodes with the default geocode. A site
// geocode matching the default's type+lat+lon is flagged default; when no
// site geocode matches, the default row itself is appended as a synthetic
// entry so every address keeps exactly one default.
func (m *Mapper) mapGeocodes(row gnaf.AddressDetailRow) ([]Geocode, error) {
	sites := m.ctx.SiteGeocodes(row.AddressSitePID)
	defaults := m.ctx.DefaultGeocodes(row.AddressDetailPID)

	var out []Geocode
	for _, sg := range sites {
		// These fields are defined empty in the supported dataset
		// generation; the mapping has never been validated against
		// populated values.
		if sg.BoundaryExtent != "" || sg.PlanimetricAccuracy != "" ||
			sg.Elevation != "" || sg.GeocodeSiteName != "" {
			return nil, fmt.Errorf("%w: site %s", ErrUnexpectedField, sg.AddressSitePID)
		}

		g, err := siteGeocode(sg)
		if err != nil {
			return nil, err
		}
		for _, dg := range defaults {
			if sg.GeocodeTypeCode == dg.GeocodeTypeCode &&
				sg.Latitude == dg.Latitude && sg.Longitude == dg.Longitude {
				g.Default = true
				break
			}
		}
		if g.Type != nil {
			c, _ := m.ctx.Decode(gnaf.TableGeocodeType, g.Type.Code)
			g.Type.Name = c
		}
		if g.Reliability != nil {
			c, _ := m.ctx.Decode(gnaf.TableGeocodeReliability, g.Reliability.Code)
			g.Reliability.Name = c
		}
		out = append(out, g)
	}

	for _, dg := range defaults {
		matched := false
		for _, g := range out {
			if g.Default && g.Type != nil && g.Type.Code == dg.GeocodeTypeCode {
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		g := Geocode{Default: true}
		if dg.GeocodeTypeCode != "" {
			name, _ := m.ctx.Decode(gnaf.TableGeocodeType, dg.GeocodeTypeCode)
			g.Type = &Code{Code: dg.GeocodeTypeCode, Name: name}
		}
		var err error
		if g.Latitude, g.Longitude, err = parseLatLon(dg.Latitude, dg.Longitude); err != nil {
			return nil, err
		}
		out = append(out, g)
	}

	return out, nil
}

func siteGeocode(sg gnaf.SiteGeocodeRow) (Geocode, error) {
	g := Geocode{Description: sg.GeocodeSiteDescription}
	if sg.GeocodeTypeCode != "" {
		g.Type = &Code{Code: sg.GeocodeTypeCode}
	}
	if sg.ReliabilityCode != "" {
		g.Reliability = &Code{Code: sg.ReliabilityCode}
	}
	var err error
	if g.Latitude, g.Longitude, err = parseLatLon(sg.Latitude, sg.Longitude); err != nil {
		return Geocode{}, err
	}
	return g, nil
}

func parseLatLon(lat, lon string) (float64, float64, error) {
	var outLat, outLon float64
	var err error
	if lat != "" {
		if outLat, err = strconv.ParseFloat(lat, 64); err != nil {
			return 0, 0, fmt.Errorf("address: bad latitude %q", lat)
		}
	}
	if lon != "" {
		if outLon, err = strconv.ParseFloat(lon, 64); err != nil {
			return 0, 0, fmt.Errorf("address: bad longitude %q", lon)
		}
	}
	return outLat, outLon, nil
}
