package ogc

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var (
	ogcColorPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{6}$`)
	rgbColorPattern  = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
	rgbaColorPattern = regexp.MustCompile(`^rgba\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*([01](?:\.\d+)?)\s*\)$`)
)

var namedColors = map[string]color.NRGBA{
	"white":       {255, 255, 255, 255},
	"black":       {0, 0, 0, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"grey":        {128, 128, 128, 255},
	"gray":        {128, 128, 128, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor accepts the WMS form "0xRRGGBB" as well as "#RGB", "#RRGGBB",
// "rgb(r,g,b)", "rgba(r,g,b,a)" and a few named colors.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	switch {
	case ogcColorPattern.MatchString(s):
		return hexColor("#" + s[2:])
	case strings.HasPrefix(s, "#"):
		return hexColor(s)
	case rgbColorPattern.MatchString(s):
		m := rgbColorPattern.FindStringSubmatch(s)
		return channels(m[1], m[2], m[3], "1")
	case rgbaColorPattern.MatchString(s):
		m := rgbaColorPattern.FindStringSubmatch(s)
		return channels(m[1], m[2], m[3], m[4])
	}
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	return color.NRGBA{}, fmt.Errorf("invalid color value %q, must be of format \"0xFFFFFF\"", s)
}

func hexColor(s string) (color.NRGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color value %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

func channels(r, g, b, a string) (color.NRGBA, error) {
	var out [3]uint8
	for i, v := range []string{r, g, b} {
		n, err := strconv.Atoi(v)
		if err != nil || n > 255 {
			return color.NRGBA{}, fmt.Errorf("invalid color channel %q", v)
		}
		out[i] = uint8(n)
	}
	alpha, err := strconv.ParseFloat(a, 64)
	if err != nil || alpha > 1 {
		return color.NRGBA{}, fmt.Errorf("invalid alpha value %q", a)
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: uint8(alpha*255 + 0.5)}, nil
}
