package canvas

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/delta10/wms-server/internal/render"
)

const earthRadius = 6378137.0

// maxLatitude is where web mercator is cut off.
const maxLatitude = 85.0511287798066

var epsgPattern = regexp.MustCompile(`^(?:\+init=)?epsg:(\d+)$`)

// projection converts between native and geographic coordinates.
type projection interface {
	render.Projection
	Forward(lon, lat float64) (x, y float64)
}

type geographic struct{}

func (geographic) Inverse(x, y float64) (float64, float64) { return x, y }
func (geographic) Forward(lon, lat float64) (float64, float64) {
	return lon, lat
}
func (geographic) EPSGString() string { return "EPSG:4326" }

type mercator struct {
	code int
}

func (m mercator) Inverse(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

func (m mercator) Forward(lon, lat float64) (float64, float64) {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	x := earthRadius * lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func (m mercator) EPSGString() string {
	return "EPSG:" + strconv.Itoa(m.code)
}

// resolve understands EPSG:4326 and the spherical mercator codes, either as
// "+init=epsg:N" or as a "+proj=" string.
func resolve(srs string) (projection, error) {
	s := strings.ToLower(strings.TrimSpace(srs))
	if m := epsgPattern.FindStringSubmatch(s); m != nil {
		switch m[1] {
		case "4326":
			return geographic{}, nil
		case "3857", "900913", "3785":
			code, _ := strconv.Atoi(m[1])
			return mercator{code: code}, nil
		}
		return nil, fmt.Errorf("unsupported projection %q", srs)
	}
	switch {
	case strings.HasPrefix(s, "+proj=longlat"), strings.HasPrefix(s, "+proj=latlong"):
		return geographic{}, nil
	case strings.HasPrefix(s, "+proj=merc"):
		return mercator{code: 3857}, nil
	}
	return nil, fmt.Errorf("unsupported projection %q", srs)
}

// transform maps x/y from one projection to another through geographic
// coordinates.
func transform(from, to projection, x, y float64) (float64, float64) {
	if from == to {
		return x, y
	}
	lon, lat := from.Inverse(x, y)
	return to.Forward(lon, lat)
}
