// ABOUTME: In-memory relational join context for one ingestion run
// ABOUTME: Authority tables live for the run, per-state indexes are rebuilt each state

package gnaf

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Authority table keys the mapper resolves against.
const (
	TableStreetType         = "STREET_TYPE_AUT"
	TableStreetSuffix       = "STREET_SUFFIX_AUT"
	TableFlatType           = "FLAT_TYPE_AUT"
	TableLevelType          = "LEVEL_TYPE_AUT"
	TableLocalityClass      = "LOCALITY_CLASS_AUT"
	TableGeocodeType        = "GEOCODE_TYPE_AUT"
	TableGeocodeReliability = "GEOCODE_RELIABILITY_AUT"
)

var authorityKeyRe = regexp.MustCompile(`Authority_Code_(.+)_psv`)

// AuthorityTableKey derives the table key from an authority-code filename,
// e.g. "Authority_Code_STREET_TYPE_AUT_psv.psv" -> "STREET_TYPE_AUT".
// Returns "" for filenames that are not authority-code files.
func AuthorityTableKey(filename string) string {
	m := authorityKeyRe.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return ""
	}
	return m[1]
}

// JoinContext holds the cross-file joins for one ingestion run. Authority
// tables are loaded once and immutable afterwards; the per-state indexes
// are replaced by fresh maps at each BeginState so PIDs can never leak
// between states.
//
// Mutated only by the single active ingestion flow; never shared with
// concurrent search requests.
type JoinContext struct {
	State     string // current state abbreviation
	StateName string

	authority map[string]map[string]string // table key -> code -> name
	tableRows map[string]int               // table key -> row count

	streetLocality map[string]StreetLocalityRow
	locality       map[string]LocalityRow
	siteGeo        map[string][]SiteGeocodeRow    // ADDRESS_SITE_PID -> rows
	defaultGeo     map[string][]DefaultGeocodeRow // ADDRESS_DETAIL_PID -> rows
}

// NewJoinContext creates an empty context for a run.
func NewJoinContext() *JoinContext {
	return &JoinContext{
		authority: make(map[string]map[string]string),
		tableRows: make(map[string]int),
	}
}

// LoadAuthorityTable installs one authority table under its key.
func (c *JoinContext) LoadAuthorityTable(key string, rows []AuthorityCodeRow) {
	table := make(map[string]string, len(rows))
	for _, r := range rows {
		table[r.Code] = r.Name
	}
	c.authority[key] = table
	c.tableRows[key] = len(rows)
}

// Decode resolves a code against an authority table. When the table or the
// code is unknown the code itself is the fallback name and ok is false.
func (c *JoinContext) Decode(table, code string) (name string, ok bool) {
	if code == "" {
		return "", false
	}
	if t, exists := c.authority[table]; exists {
		if n, hit := t[code]; hit {
			return n, true
		}
	}
	return code, false
}

// AuthorityTable returns a copy of one table's code-to-name mapping, or
// an empty map for unknown tables.
func (c *JoinContext) AuthorityTable(key string) map[string]string {
	t := c.authority[key]
	out := make(map[string]string, len(t))
	for code, name := range t {
		out[code] = name
	}
	return out
}

// AuthorityRowCount returns the loaded row count of a table.
func (c *JoinContext) AuthorityRowCount(key string) int {
	return c.tableRows[key]
}

// AuthorityTables returns the loaded table keys.
func (c *JoinContext) AuthorityTables() []string {
	keys := make([]string, 0, len(c.authority))
	for k := range c.authority {
		keys = append(keys, k)
	}
	return keys
}

// BeginState resets the context for a new state. Fresh maps are allocated
// rather than cleared so a stale reference from the previous iteration can
// never surface another state's PIDs.
func (c *JoinContext) BeginState(abbr, name string) {
	c.State = strings.ToUpper(abbr)
	c.StateName = name
	c.streetLocality = make(map[string]StreetLocalityRow)
	c.locality = make(map[string]LocalityRow)
	c.siteGeo = make(map[string][]SiteGeocodeRow)
	c.defaultGeo = make(map[string][]DefaultGeocodeRow)
}

// IndexStreetLocalities indexes street rows by PID for the current state.
func (c *JoinContext) IndexStreetLocalities(rows []StreetLocalityRow) {
	for _, r := range rows {
		c.streetLocality[r.StreetLocalityPID] = r
	}
}

// IndexLocalities indexes locality rows by PID for the current state.
func (c *JoinContext) IndexLocalities(rows []LocalityRow) {
	for _, r := range rows {
		c.locality[r.LocalityPID] = r
	}
}

// IndexSiteGeocodes appends site geocode rows keyed by address site PID.
// A site can legitimately carry several geocodes.
func (c *JoinContext) IndexSiteGeocodes(rows []SiteGeocodeRow) {
	for _, r := range rows {
		c.siteGeo[r.AddressSitePID] = append(c.siteGeo[r.AddressSitePID], r)
	}
}

// IndexDefaultGeocodes appends default geocode rows keyed by address detail
// PID. Conceptually one per address; kept as a list for uniformity with the
// site index.
func (c *JoinContext) IndexDefaultGeocodes(rows []DefaultGeocodeRow) {
	for _, r := range rows {
		c.defaultGeo[r.AddressDetailPID] = append(c.defaultGeo[r.AddressDetailPID], r)
	}
}

// StreetLocality looks up a street by PID.
func (c *JoinContext) StreetLocality(pid string) (StreetLocalityRow, bool) {
	r, ok := c.streetLocality[pid]
	return r, ok
}

// Locality looks up a locality by PID.
func (c *JoinContext) Locality(pid string) (LocalityRow, bool) {
	r, ok := c.locality[pid]
	return r, ok
}

// SiteGeocodes returns all site geocodes for an address site PID.
func (c *JoinContext) SiteGeocodes(sitePID string) []SiteGeocodeRow {
	return c.siteGeo[sitePID]
}

// DefaultGeocodes returns the default geocodes for an address detail PID.
func (c *JoinContext) DefaultGeocodes(detailPID string) []DefaultGeocodeRow {
	return c.defaultGeo[detailPID]
}
