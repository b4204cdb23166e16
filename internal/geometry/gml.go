package geometry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// GML writes the GML 3.2 element for g with an urn:ogc:def:crs:EPSG:: srsName.
// EPSG:4326 coordinates are emitted in lat/lon order per the WFS 2.0 spec;
// every other CRS keeps x/y.
func GML(g geom.T, srid int) (string, error) {
	srs := fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", srid)
	return gmlElement(g, srs, srid == 4326)
}

func gmlElement(g geom.T, srs string, swap bool) (string, error) {
	switch t := g.(type) {
	case *geom.Point:
		return pointGML(t, srs, swap), nil
	case *geom.LineString:
		return lineStringGML(t, srs, swap), nil
	case *geom.Polygon:
		return polygonGML(t, srs, swap), nil
	case *geom.MultiPoint:
		var sb strings.Builder
		for i := 0; i < t.NumPoints(); i++ {
			sb.WriteString("<gml:pointMember>")
			sb.WriteString(pointGML(t.Point(i), srs, swap))
			sb.WriteString("</gml:pointMember>")
		}
		return fmt.Sprintf(`<gml:MultiPoint srsName=%q>%s</gml:MultiPoint>`, srs, sb.String()), nil
	case *geom.MultiLineString:
		var sb strings.Builder
		for i := 0; i < t.NumLineStrings(); i++ {
			sb.WriteString("<gml:curveMember>")
			sb.WriteString(lineStringGML(t.LineString(i), srs, swap))
			sb.WriteString("</gml:curveMember>")
		}
		return fmt.Sprintf(`<gml:MultiCurve srsName=%q>%s</gml:MultiCurve>`, srs, sb.String()), nil
	case *geom.MultiPolygon:
		var sb strings.Builder
		for i := 0; i < t.NumPolygons(); i++ {
			sb.WriteString("<gml:surfaceMember>")
			sb.WriteString(polygonGML(t.Polygon(i), srs, swap))
			sb.WriteString("</gml:surfaceMember>")
		}
		return fmt.Sprintf(`<gml:MultiSurface srsName=%q>%s</gml:MultiSurface>`, srs, sb.String()), nil
	case *geom.GeometryCollection:
		var sb strings.Builder
		for i := 0; i < t.NumGeoms(); i++ {
			inner, err := gmlElement(t.Geom(i), srs, swap)
			if err != nil {
				return "", err
			}
			sb.WriteString("<gml:geometryMember>")
			sb.WriteString(inner)
			sb.WriteString("</gml:geometryMember>")
		}
		return fmt.Sprintf(`<gml:MultiGeometry srsName=%q>%s</gml:MultiGeometry>`, srs, sb.String()), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func coordsString(coords []geom.Coord, swap bool) string {
	parts := make([]string, 0, 2*len(coords))
	for _, c := range coords {
		if swap {
			parts = append(parts, fmtCoord(c.Y()), fmtCoord(c.X()))
		} else {
			parts = append(parts, fmtCoord(c.X()), fmtCoord(c.Y()))
		}
	}
	return strings.Join(parts, " ")
}

func pointGML(p *geom.Point, srs string, swap bool) string {
	var pos string
	if swap {
		pos = fmtCoord(p.Y()) + " " + fmtCoord(p.X())
	} else {
		pos = fmtCoord(p.X()) + " " + fmtCoord(p.Y())
	}
	return fmt.Sprintf(`<gml:Point srsName=%q><gml:pos>%s</gml:pos></gml:Point>`, srs, pos)
}

func lineStringGML(ls *geom.LineString, srs string, swap bool) string {
	return fmt.Sprintf(`<gml:LineString srsName=%q><gml:posList>%s</gml:posList></gml:LineString>`,
		srs, coordsString(ls.Coords(), swap))
}

func ringGML(coords []geom.Coord, swap bool) string {
	return fmt.Sprintf(`<gml:LinearRing><gml:posList>%s</gml:posList></gml:LinearRing>`,
		coordsString(coords, swap))
}

func polygonGML(p *geom.Polygon, srs string, swap bool) string {
	var sb strings.Builder
	rings := p.Coords()
	if len(rings) > 0 {
		sb.WriteString("<gml:exterior>")
		sb.WriteString(ringGML(rings[0], swap))
		sb.WriteString("</gml:exterior>")
		for _, hole := range rings[1:] {
			sb.WriteString("<gml:interior>")
			sb.WriteString(ringGML(hole, swap))
			sb.WriteString("</gml:interior>")
		}
	}
	return fmt.Sprintf(`<gml:Polygon srsName=%q>%s</gml:Polygon>`, srs, sb.String())
}

// ── GML parsing ──

var epsgRe = regexp.MustCompile(`EPSG::(\d+)`)

// ParseSRSName extracts the SRID from an srsName attribute value and reports
// whether GML coordinates under that CRS arrive axis-swapped. An empty or
// unrecognised value defaults to EPSG:4326 (swapped); CRS84 is lon/lat.
func ParseSRSName(srs string) (srid int, swap bool) {
	if strings.Contains(srs, "CRS84") {
		return 4326, false
	}
	if m := epsgRe.FindStringSubmatch(srs); m != nil {
		srid, _ = strconv.Atoi(m[1])
		return srid, srid == 4326
	}
	return 4326, true
}

// ParseGML parses a GML 3.2 geometry element. The SRID comes from the
// element's srsName attribute.
func ParseGML(n *Node) (geom.T, int, error) {
	srid, swap := ParseSRSName(n.Attr("srsName"))
	g, err := parseGMLElement(n, swap)
	if err != nil {
		return nil, 0, err
	}
	return g, srid, nil
}

func parseGMLElement(n *Node, swap bool) (geom.T, error) {
	switch n.Local() {
	case "Point":
		return parsePoint(n, swap)
	case "LineString":
		return parseLineString(n, swap)
	case "Polygon":
		return parsePolygon(n, swap)
	case "MultiPoint":
		coords, err := parseMemberCoords(n, swap, "pointMember", func(c *Node) (geom.Coord, error) {
			p, err := parsePoint(c, swap)
			if err != nil {
				return nil, err
			}
			return geom.Coord{p.X(), p.Y()}, nil
		})
		if err != nil {
			return nil, err
		}
		return geom.NewMultiPoint(geom.XY).SetCoords(coords)
	case "MultiCurve":
		var lines [][]geom.Coord
		for _, m := range n.FindAll("curveMember") {
			child := m.FirstChild()
			if child == nil {
				continue
			}
			ls, err := parseLineString(child, swap)
			if err != nil {
				return nil, err
			}
			lines = append(lines, ls.Coords())
		}
		return geom.NewMultiLineString(geom.XY).SetCoords(lines)
	case "MultiSurface":
		var polys [][][]geom.Coord
		for _, m := range n.FindAll("surfaceMember") {
			child := m.FirstChild()
			if child == nil {
				continue
			}
			p, err := parsePolygon(child, swap)
			if err != nil {
				return nil, err
			}
			polys = append(polys, p.Coords())
		}
		return geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	case "MultiGeometry":
		gc := geom.NewGeometryCollection()
		for _, m := range n.FindAll("geometryMember") {
			child := m.FirstChild()
			if child == nil {
				continue
			}
			g, err := parseGMLElement(child, swap)
			if err != nil {
				return nil, err
			}
			if err := gc.Push(g); err != nil {
				return nil, err
			}
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("%w: gml:%s", ErrUnsupportedGeometry, n.Local())
	}
}

func parseMemberCoords(n *Node, swap bool, member string, fn func(*Node) (geom.Coord, error)) ([]geom.Coord, error) {
	var coords []geom.Coord
	for _, m := range n.FindAll(member) {
		child := m.FirstChild()
		if child == nil {
			continue
		}
		c, err := fn(child)
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, nil
}

func parsePos(text string, swap bool) (float64, float64, error) {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: gml:pos needs two coordinates, got %q", ErrMalformedGML, text)
	}
	a, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedGML, err)
	}
	b, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedGML, err)
	}
	if swap {
		return b, a, nil
	}
	return a, b, nil
}

func parsePosList(text string, swap bool) ([]geom.Coord, error) {
	parts := strings.Fields(text)
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of ordinates in gml:posList", ErrMalformedGML)
	}
	coords := make([]geom.Coord, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		a, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGML, err)
		}
		b, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGML, err)
		}
		if swap {
			coords = append(coords, geom.Coord{b, a})
		} else {
			coords = append(coords, geom.Coord{a, b})
		}
	}
	return coords, nil
}

func findText(n *Node, local string) (string, error) {
	child := n.Find(local)
	if child == nil || strings.TrimSpace(child.Text) == "" {
		return "", fmt.Errorf("%w: missing <gml:%s>", ErrMalformedGML, local)
	}
	return child.Text, nil
}

func parsePoint(n *Node, swap bool) (*geom.Point, error) {
	text, err := findText(n, "pos")
	if err != nil {
		return nil, err
	}
	x, y, err := parsePos(text, swap)
	if err != nil {
		return nil, err
	}
	return geom.NewPointFlat(geom.XY, []float64{x, y}), nil
}

func parseLineString(n *Node, swap bool) (*geom.LineString, error) {
	text, err := findText(n, "posList")
	if err != nil {
		return nil, err
	}
	coords, err := parsePosList(text, swap)
	if err != nil {
		return nil, err
	}
	return geom.NewLineString(geom.XY).SetCoords(coords)
}

func parseLinearRing(n *Node, swap bool) ([]geom.Coord, error) {
	ring := n.Find("LinearRing")
	if ring == nil {
		return nil, fmt.Errorf("%w: missing <gml:LinearRing>", ErrMalformedGML)
	}
	text, err := findText(ring, "posList")
	if err != nil {
		return nil, err
	}
	return parsePosList(text, swap)
}

func parsePolygon(n *Node, swap bool) (*geom.Polygon, error) {
	exterior := n.Find("exterior")
	if exterior == nil {
		return nil, fmt.Errorf("%w: Polygon missing <gml:exterior>", ErrMalformedGML)
	}
	shell, err := parseLinearRing(exterior, swap)
	if err != nil {
		return nil, err
	}
	rings := [][]geom.Coord{shell}
	for _, interior := range n.FindAll("interior") {
		hole, err := parseLinearRing(interior, swap)
		if err != nil {
			return nil, err
		}
		rings = append(rings, hole)
	}
	return geom.NewPolygon(geom.XY).SetCoords(rings)
}

// gmlGeometryTags are the element names the transaction engine recognises as
// geometry payloads.
var gmlGeometryTags = map[string]bool{
	"Point": true, "LineString": true, "Polygon": true, "MultiPoint": true,
	"MultiCurve": true, "MultiSurface": true, "MultiGeometry": true,
}

func IsGMLGeometry(local string) bool {
	return gmlGeometryTags[local]
}

// FindGMLGeometry returns the first direct child of n that is a GML geometry
// element, or nil.
func FindGMLGeometry(n *Node) *Node {
	for i := range n.Children {
		if IsGMLGeometry(n.Children[i].Local()) {
			return &n.Children[i]
		}
	}
	return nil
}
