package geometry

import (
	"fmt"

	"github.com/ctessum/geom/proj"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-geom"
)

// proj4ByEPSG covers the CRSs the server accepts as ingest or transaction
// sources. UTM zones (326xx/327xx) are generated in proj4String.
var proj4ByEPSG = map[int]string{
	4326:  "+proj=longlat +datum=WGS84 +no_defs",
	4269:  "+proj=longlat +datum=NAD83 +no_defs",
	3857:  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	3035:  "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +units=m +no_defs",
	2154:  "+proj=lcc +lat_1=49 +lat_2=44 +lat_0=46.5 +lon_0=3 +x_0=700000 +y_0=6600000 +ellps=GRS80 +units=m +no_defs",
	25832: "+proj=utm +zone=32 +ellps=GRS80 +units=m +no_defs",
	25833: "+proj=utm +zone=33 +ellps=GRS80 +units=m +no_defs",
	27700: "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +units=m +no_defs",
}

func proj4String(srid int) (string, error) {
	if s, ok := proj4ByEPSG[srid]; ok {
		return s, nil
	}
	switch {
	case srid >= 32601 && srid <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", srid-32600), nil
	case srid >= 32701 && srid <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", srid-32700), nil
	}
	return "", fmt.Errorf("%w: EPSG:%d", ErrUnknownCRS, srid)
}

type transformKey struct {
	from, to int
}

// Parsing a proj4 pipeline is not free; keep compiled transformers around.
var transformCache, _ = lru.New[transformKey, proj.Transformer](64)

func transformerFor(from, to int) (proj.Transformer, error) {
	key := transformKey{from, to}
	if t, ok := transformCache.Get(key); ok {
		return t, nil
	}
	srcStr, err := proj4String(from)
	if err != nil {
		return nil, err
	}
	dstStr, err := proj4String(to)
	if err != nil {
		return nil, err
	}
	src, err := proj.Parse(srcStr)
	if err != nil {
		return nil, fmt.Errorf("%w: EPSG:%d: %v", ErrUnknownCRS, from, err)
	}
	dst, err := proj.Parse(dstStr)
	if err != nil {
		return nil, fmt.Errorf("%w: EPSG:%d: %v", ErrUnknownCRS, to, err)
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: EPSG:%d -> EPSG:%d: %v", ErrUnknownCRS, from, to, err)
	}
	transformCache.Add(key, t)
	return t, nil
}

// Reproject transforms g from one EPSG CRS to another in place and returns
// it. Identity when the codes match.
func Reproject(g geom.T, fromSRID, toSRID int) (geom.T, error) {
	if fromSRID == toSRID {
		return g, nil
	}
	t, err := transformerFor(fromSRID, toSRID)
	if err != nil {
		return nil, err
	}
	if err := applyTransform(g, t); err != nil {
		return nil, err
	}
	return g, nil
}

func applyTransform(g geom.T, t proj.Transformer) error {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for i := 0; i < gc.NumGeoms(); i++ {
			if err := applyTransform(gc.Geom(i), t); err != nil {
				return err
			}
		}
		return nil
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := t(flat[i], flat[i+1])
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = x, y
	}
	return nil
}
