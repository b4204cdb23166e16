package geometry

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/twpayne/go-geom"
)

func parseGMLString(t *testing.T, s string) (geom.T, int) {
	t.Helper()
	n, err := ParseXML([]byte(s))
	if err != nil {
		t.Fatalf("parse xml: %v", err)
	}
	g, srid, err := ParseGML(n)
	if err != nil {
		t.Fatalf("parse gml: %v", err)
	}
	return g, srid
}

func TestGMLPointAxisOrder(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{10.5, 20.25})

	emitted, err := GML(pt, 4326)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	// EPSG:4326 emits lat lon
	if !strings.Contains(emitted, "<gml:pos>20.25 10.5</gml:pos>") {
		t.Fatalf("4326 point not axis-swapped: %s", emitted)
	}
	if !strings.Contains(emitted, `srsName="urn:ogc:def:crs:EPSG::4326"`) {
		t.Fatalf("missing srsName: %s", emitted)
	}

	emitted, err = GML(pt, 3857)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !strings.Contains(emitted, "<gml:pos>10.5 20.25</gml:pos>") {
		t.Fatalf("3857 point should keep x y: %s", emitted)
	}
}

func TestGMLRoundTrip(t *testing.T) {
	for name, g := range testGeometries() {
		for _, srid := range []int{4326, 3857} {
			emitted, err := GML(g, srid)
			if err != nil {
				t.Fatalf("%s/%d: emit: %v", name, srid, err)
			}
			back, gotSRID := parseGMLString(t, emitted)
			if gotSRID != srid {
				t.Fatalf("%s/%d: srid became %d", name, srid, gotSRID)
			}
			if !reflect.DeepEqual(g.FlatCoords(), back.FlatCoords()) {
				t.Fatalf("%s/%d: coords changed: %v != %v", name, srid, g.FlatCoords(), back.FlatCoords())
			}
		}
	}
}

func TestGMLGeometryCollectionRoundTrip(t *testing.T) {
	ls, _ := geom.NewLineString(geom.XY).SetCoords([]geom.Coord{{0, 0}, {1, 1}})
	gc := geom.NewGeometryCollection()
	if err := gc.Push(geom.NewPointFlat(geom.XY, []float64{5, 6})); err != nil {
		t.Fatal(err)
	}
	if err := gc.Push(ls); err != nil {
		t.Fatal(err)
	}

	emitted, err := GML(gc, 4326)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !strings.Contains(emitted, "<gml:MultiGeometry") || !strings.Contains(emitted, "<gml:geometryMember>") {
		t.Fatalf("unexpected collection markup: %s", emitted)
	}
	back, _ := parseGMLString(t, emitted)
	got, ok := back.(*geom.GeometryCollection)
	if !ok {
		t.Fatalf("parsed %T, want GeometryCollection", back)
	}
	if got.NumGeoms() != 2 {
		t.Fatalf("NumGeoms = %d, want 2", got.NumGeoms())
	}
	if !reflect.DeepEqual(got.Geom(0).FlatCoords(), []float64{5, 6}) {
		t.Fatalf("member 0 coords: %v", got.Geom(0).FlatCoords())
	}
}

func TestParseSRSName(t *testing.T) {
	cases := []struct {
		srs  string
		srid int
		swap bool
	}{
		{"", 4326, true},
		{"urn:ogc:def:crs:EPSG::4326", 4326, true},
		{"urn:ogc:def:crs:EPSG::3857", 3857, false},
		{"urn:ogc:def:crs:EPSG::25832", 25832, false},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", 4326, false},
		{"not an srs at all", 4326, true},
	}
	for _, tc := range cases {
		srid, swap := ParseSRSName(tc.srs)
		if srid != tc.srid || swap != tc.swap {
			t.Fatalf("ParseSRSName(%q) = (%d, %v), want (%d, %v)",
				tc.srs, srid, swap, tc.srid, tc.swap)
		}
	}
}

func TestParseGMLDefaultsTo4326Swapped(t *testing.T) {
	// no srsName: coordinates are lat lon
	g, srid := parseGMLString(t, `<gml:Point><gml:pos>20.25 10.5</gml:pos></gml:Point>`)
	if srid != 4326 {
		t.Fatalf("srid = %d", srid)
	}
	if !reflect.DeepEqual(g.FlatCoords(), []float64{10.5, 20.25}) {
		t.Fatalf("coords = %v, want [10.5 20.25]", g.FlatCoords())
	}
}

func TestParseGMLMalformed(t *testing.T) {
	cases := map[string]string{
		"point without pos":        `<gml:Point srsName="urn:ogc:def:crs:EPSG::3857"></gml:Point>`,
		"pos with one ordinate":    `<gml:Point><gml:pos>7</gml:pos></gml:Point>`,
		"pos with junk":            `<gml:Point><gml:pos>a b</gml:pos></gml:Point>`,
		"odd posList":              `<gml:LineString><gml:posList>1 2 3</gml:posList></gml:LineString>`,
		"polygon without exterior": `<gml:Polygon></gml:Polygon>`,
		"exterior without ring":    `<gml:Polygon><gml:exterior></gml:exterior></gml:Polygon>`,
	}
	for name, doc := range cases {
		n, err := ParseXML([]byte(doc))
		if err != nil {
			t.Fatalf("%s: xml: %v", name, err)
		}
		if _, _, err := ParseGML(n); !errors.Is(err, ErrMalformedGML) {
			t.Fatalf("%s: err = %v, want ErrMalformedGML", name, err)
		}
	}
}

func TestParseGMLUnsupportedElement(t *testing.T) {
	n, err := ParseXML([]byte(`<gml:Curve><gml:posList>1 2</gml:posList></gml:Curve>`))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ParseGML(n); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("err = %v, want ErrUnsupportedGeometry", err)
	}
}

func TestFindGMLGeometry(t *testing.T) {
	doc := `<geometry><ignored/><gml:Point srsName="urn:ogc:def:crs:EPSG::3857"><gml:pos>1 2</gml:pos></gml:Point></geometry>`
	n, err := ParseXML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	found := FindGMLGeometry(n)
	if found == nil || found.Local() != "Point" {
		t.Fatalf("FindGMLGeometry = %v", found)
	}
	if FindGMLGeometry(&Node{}) != nil {
		t.Fatal("empty node should have no geometry child")
	}
}

func TestNodeHelpers(t *testing.T) {
	doc := `<wfs:Update typeName="roads"><wfs:Property><wfs:ValueReference>lanes</wfs:ValueReference></wfs:Property>` +
		`<fes:Filter><fes:ResourceId rid="roads.r1"/></fes:Filter></wfs:Update>`
	n, err := ParseXML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if n.Local() != "Update" {
		t.Fatalf("local = %s", n.Local())
	}
	if n.Attr("typeName") != "roads" {
		t.Fatalf("typeName attr = %q", n.Attr("typeName"))
	}
	if got := len(n.Descendants("ResourceId")); got != 1 {
		t.Fatalf("ResourceId descendants = %d", got)
	}
	prop := n.Find("Property")
	if prop == nil || prop.Find("ValueReference").Text != "lanes" {
		t.Fatal("Property/ValueReference lookup failed")
	}
}
