// Package wfs builds OGC WFS 2.0.0 responses: GetCapabilities,
// DescribeFeatureType, GetFeature in GML 3.2 and GeoJSON, and the
// transactional Insert/Update/Delete operations.
package wfs

import (
	"strings"
	"time"

	"github.com/mvonw/WFSFeatureServer/internal/store"
)

const (
	nsWFS = "http://www.opengis.net/wfs/2.0"
	nsGML = "http://www.opengis.net/gml/3.2"
	nsFES = "http://www.opengis.net/fes/2.0"
	nsOWS = "http://www.opengis.net/ows/1.1"
)

// ServiceInfo is surfaced verbatim in GetCapabilities.
type ServiceInfo struct {
	Title    string
	Abstract string
	URL      string
}

type Service struct {
	repo        *store.Repo
	info        ServiceInfo
	maxFeatures int
}

func NewService(repo *store.Repo, info ServiceInfo, maxFeatures int) *Service {
	return &Service{repo: repo, info: info, maxFeatures: maxFeatures}
}

// nowISO renders the current UTC time at millisecond precision with a
// trailing Z, the timeStamp format of the feature collections.
func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

// splitTypeNames tokenises a space- or comma-separated typenames list.
func splitTypeNames(typenames string) []string {
	return strings.Fields(strings.ReplaceAll(typenames, ",", " "))
}

// safeTag makes a property name usable as an XML tag: anything outside
// [A-Za-z0-9_-.] becomes an underscore, a leading digit gets one prefixed,
// and an empty result falls back to "field".
func safeTag(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "field"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// xmlEscape escapes text content for embedding in XML.
func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
