package ogc

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, Version111, v)

	v, err = ParseVersion("1.3.0")
	require.NoError(t, err)
	assert.Equal(t, Version130, v)
	assert.Equal(t, "1.3.0", v.String())

	for _, bad := range []string{"1.3", "a.b.c", "1.3.0.0", "1.-1.0"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestVersionOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, Version130.AtLeast(Version111))
	assert.False(t, Version111.AtLeast(Version130))
	assert.True(t, Version{1, 4, 0}.AtLeast(Version130))
	assert.True(t, Version{2, 0, 0}.AtLeast(Version{1, 9, 9}))
	assert.Equal(t, 0, Version111.Compare(Version{1, 1, 1}))
	assert.Equal(t, -1, Version{1, 1, 0}.Compare(Version111))
}

func TestParseCRS(t *testing.T) {
	t.Parallel()

	c, err := ParseCRS("EPSG:4326", []string{"epsg"})
	require.NoError(t, err)
	assert.Equal(t, "epsg:4326", c.String())
	assert.Equal(t, "EPSG:4326", c.Upper())
	assert.True(t, c.IsEPSG())

	tests := []string{"EPSG", "EPSG:", "EPSG:abc", "AUTO:42001", "e:1", "urn:ogc:def:crs:EPSG::4326"}
	for _, s := range tests {
		_, err := ParseCRS(s, []string{"EPSG"})
		var pe *ProtocolError
		require.ErrorAs(t, err, &pe, s)
		assert.Equal(t, CodeInvalidCRS, pe.Code, s)
	}
}

func TestParseColor(t *testing.T) {
	t.Parallel()

	tests := map[string]color.NRGBA{
		"0xFF0000":           {R: 255, A: 255},
		"0x00ff00":           {G: 255, A: 255},
		"#0000ff":            {B: 255, A: 255},
		"#fff":               {R: 255, G: 255, B: 255, A: 255},
		"rgb(1, 2, 3)":       {R: 1, G: 2, B: 3, A: 255},
		"rgba(1,2,3,0.5)":    {R: 1, G: 2, B: 3, A: 128},
		"White":              {R: 255, G: 255, B: 255, A: 255},
		"transparent":        {},
	}
	for in, want := range tests {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "0xFFF", "#zzzzzz", "rgb(300,0,0)", "rgba(0,0,0,2)", "chartreuse-ish"} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestResponseIsImmutable(t *testing.T) {
	t.Parallel()

	content := []byte("<xml/>")
	r := NewResponse("text/xml", content)
	content[0] = 'X'
	assert.Equal(t, []byte("<xml/>"), r.Content())

	out := r.Content()
	out[0] = 'Y'
	assert.Equal(t, []byte("<xml/>"), r.Content())
	assert.Equal(t, 6, r.Len())
	assert.Equal(t, "text/xml", r.ContentType())

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, "<xml/>", buf.String())
}

func TestValidationErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := missingParameter("layers")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeMissingParameterValue, pe.Code)
	assert.Contains(t, err.Error(), "layers")
}
