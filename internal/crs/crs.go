// Package crs identifies coordinate reference systems and reprojects go-geom
// geometries between any pair of EPSG codes known to the wgs84 registry,
// including the Italian national systems the Milan boundary files ship in.
package crs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// EPSG is an EPSG registry code.
type EPSG int

// Well-known codes.
const (
	WGS84       EPSG = 4326
	ETRS89      EPSG = 4258
	WebMercator EPSG = 3857
	UTM32N      EPSG = 32632

	ED50         EPSG = 4230
	MonteMario   EPSG = 4265
	MonteMarioRm EPSG = 4806
	RDN2008      EPSG = 6706
	GaussBoagaW  EPSG = 3003
	GaussBoagaE  EPSG = 3004
	LAEAEurope   EPSG = 3035
	RDN2008UTM32 EPSG = 7791
)

// googleMercator is the unofficial code some tiling tools still write.
const googleMercator EPSG = 900913

// ErrUnsupported is returned for codes the package cannot transform.
var ErrUnsupported = eris.New("crs: unsupported coordinate reference system")

func (c EPSG) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// Geographic reports whether c is one of the longitude/latitude systems seen
// in Italian and pan-European data.
func (c EPSG) Geographic() bool {
	switch c {
	case WGS84, ETRS89, ED50, MonteMario, MonteMarioRm, RDN2008:
		return true
	}
	return false
}

// Supported reports whether c can be transformed.
func (c EPSG) Supported() bool {
	_, ok := registered()[c]
	return ok
}

var (
	epsgURN  = regexp.MustCompile(`(?i)^urn:ogc:def:crs:epsg:[0-9.]*:(\d+)$`)
	epsgHTTP = regexp.MustCompile(`(?i)^https?://www\.opengis\.net/def/crs/epsg/[0-9.]+/(\d+)$`)
	crs84    = regexp.MustCompile(`(?i)(^|[:/])crs:?84$`)
)

// Parse reads a CRS identifier in any of the forms found in GeoJSON and
// configuration files: "EPSG:4326", "4326", "urn:ogc:def:crs:EPSG::32632",
// "urn:ogc:def:crs:OGC:1.3:CRS84" or an opengis.net URL.
func Parse(id string) (EPSG, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, eris.New("crs: empty identifier")
	}

	// CRS84 is WGS84 with longitude first, which is how 4326 is handled here.
	if crs84.MatchString(s) {
		return WGS84, nil
	}

	var digits string
	switch {
	case strings.HasPrefix(strings.ToUpper(s), "EPSG:"):
		digits = s[len("EPSG:"):]
	case epsgURN.MatchString(s):
		digits = epsgURN.FindStringSubmatch(s)[1]
	case epsgHTTP.MatchString(s):
		digits = epsgHTTP.FindStringSubmatch(s)[1]
	default:
		digits = s
	}

	code, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil || code <= 0 {
		return 0, eris.Errorf("crs: unrecognised identifier %q", id)
	}

	c := EPSG(code)
	if c == googleMercator {
		c = WebMercator
	}
	if !c.Supported() {
		return 0, eris.Wrapf(ErrUnsupported, "crs: %s", c)
	}
	return c, nil
}

var (
	wktAuthority = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	wktUTM       = regexp.MustCompile(`(?i)(WGS_?1984|WGS 84|ETRS_?1989|ETRS89|ED_?1950|ED50|RDN2008)[ _/]+UTM[ _]zone[ _](\d{1,2})([NS])`)
	wktProjcs    = regexp.MustCompile(`^\s*PROJCS\s*\[`)
)

// FromWKT infers the EPSG code from a WKT definition such as the contents of
// a shapefile .prj. The outermost AUTHORITY wins; ESRI-flavoured WKT without
// authorities is matched by name.
func FromWKT(wkt string) (EPSG, error) {
	if m := wktAuthority.FindAllStringSubmatch(wkt, -1); len(m) > 0 {
		code, _ := strconv.Atoi(m[len(m)-1][1])
		// A geographic authority inside an unnamed PROJCS describes only the datum.
		if !wktProjcs.MatchString(wkt) || !EPSG(code).Geographic() {
			return Parse(strconv.Itoa(code))
		}
	}

	if m := wktUTM.FindStringSubmatch(wkt); m != nil {
		zone, _ := strconv.Atoi(m[2])
		if zone < 1 || zone > 60 {
			return 0, eris.Errorf("crs: invalid UTM zone %d in WKT", zone)
		}
		return utmCode(strings.ToUpper(strings.NewReplacer("_", "", " ", "").Replace(m[1])), zone, strings.EqualFold(m[3], "S"))
	}

	upper := strings.ToUpper(wkt)
	if wktProjcs.MatchString(wkt) {
		for _, n := range projectedNames {
			if strings.Contains(upper, n.name) {
				return n.code, nil
			}
		}
		return 0, eris.Wrap(ErrUnsupported, "crs: unrecognised projected WKT")
	}
	for _, n := range geographicNames {
		if strings.Contains(upper, n.name) {
			return n.code, nil
		}
	}
	return 0, eris.Wrap(ErrUnsupported, "crs: unrecognised WKT")
}

// utmCode maps a datum prefix and zone to the EPSG code of that UTM zone.
func utmCode(datum string, zone int, south bool) (EPSG, error) {
	switch {
	case datum == "WGS1984" || datum == "WGS84":
		if south {
			return EPSG(32700 + zone), nil
		}
		return EPSG(32600 + zone), nil
	case south:
		return 0, eris.Wrapf(ErrUnsupported, "crs: southern %s zone", datum)
	case datum == "ETRS1989" || datum == "ETRS89":
		return EPSG(25800 + zone), nil
	case datum == "ED1950" || datum == "ED50":
		return EPSG(23000 + zone), nil
	case datum == "RDN2008" && zone >= 32 && zone <= 34:
		return EPSG(7791 + zone - 32), nil
	}
	return 0, eris.Wrapf(ErrUnsupported, "crs: %s UTM zone %d", datum, zone)
}

type namedCRS struct {
	name string
	code EPSG
}

// Order matters: more specific names first.
var projectedNames = []namedCRS{
	{"WEB_MERCATOR", WebMercator},
	{"PSEUDO-MERCATOR", WebMercator},
	{"MONTE_MARIO_ITALY_1", GaussBoagaW},
	{"MONTE MARIO / ITALY ZONE 1", GaussBoagaW},
	{"MONTE_MARIO_ITALY_2", GaussBoagaE},
	{"MONTE MARIO / ITALY ZONE 2", GaussBoagaE},
	{"ETRS_1989_LAEA", LAEAEurope},
	{"ETRS89 / LAEA EUROPE", LAEAEurope},
	{"ETRS89-EXTENDED / LAEA EUROPE", LAEAEurope},
}

var geographicNames = []namedCRS{
	{"MONTE_MARIO_ROME", MonteMarioRm},
	{"MONTE MARIO (ROME)", MonteMarioRm},
	{"MONTE_MARIO", MonteMario},
	{"MONTE MARIO", MonteMario},
	{"EUROPEAN_1950", ED50},
	{"ED50", ED50},
	{"RDN2008", RDN2008},
	{"ETRS_1989", ETRS89},
	{"ETRS89", ETRS89},
	{"WGS_1984", WGS84},
	{"WGS 84", WGS84},
	{"WGS84", WGS84},
}
