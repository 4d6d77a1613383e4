package spa

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want Location
	}{
		{"/", Location{Path: "/"}},
		{"/projects/42", Location{Path: "/projects/42"}},
		{"/blog?page=2", Location{Path: "/blog", Search: "?page=2"}},
		{"/blog?page=2#top", Location{Path: "/blog", Search: "?page=2", Hash: "#top"}},
		{"/caf%C3%A9", Location{Path: "/caf%C3%A9"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, LocationFromURL(u))
		})
	}
}

func TestHasMarker(t *testing.T) {
	tests := []struct {
		search string
		want   bool
	}{
		{"", false},
		{"?spa-redirect=true", true},
		{"?a=1&spa-redirect=true", true},
		{"?spa-redirect", true},
		{"?spa-redirect=false", true},
		{"?spa-redirectx=true", false},
		{"?q=%zz&spa-redirect=true", true},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			assert.Equal(t, tt.want, Location{Path: "/", Search: tt.search}.HasMarker())
		})
	}
}

func TestDecodeIntent(t *testing.T) {
	i, err := DecodeIntent(`{"path":"/a","search":"?b","hash":"#c"}`)
	require.NoError(t, err)
	assert.Equal(t, Intent{Path: "/a", Search: "?b", Hash: "#c"}, i)

	i, err = DecodeIntent(`{"path":"/only"}`)
	require.NoError(t, err)
	assert.Equal(t, Intent{Path: "/only"}, i)

	_, err = DecodeIntent("{")
	assert.ErrorIs(t, err, ErrCorruptIntent)

	_, err = DecodeIntent(" null ")
	assert.ErrorIs(t, err, ErrCorruptIntent)
}

func TestDecodeIntent_FieldNames(t *testing.T) {
	cases := []struct {
		raw     string
		want    Intent
		corrupt bool
	}{
		{raw: `{"PATH":"/x","Search":"?a"}`, want: Intent{}},
		{raw: `{"path":null,"hash":"#a"}`, want: Intent{Hash: "#a"}},
		{raw: `{"path":"/a","extra":1}`, want: Intent{Path: "/a"}},
		{raw: `{}`, want: Intent{}},
		{raw: `{"search":true}`, corrupt: true},
		{raw: `[]`, corrupt: true},
		{raw: `"/a"`, corrupt: true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := DecodeIntent(tc.raw)
			if tc.corrupt {
				assert.ErrorIs(t, err, ErrCorruptIntent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLeadingSlash(t *testing.T) {
	cases := map[string]string{
		"":               "/",
		"/":              "/",
		"about":          "/about",
		"/about":         "/about",
		"//evil.example": "/evil.example",
		`/\evil.example`: "/evil.example",
		`\\x`:            "/x",
		"/a//b":          "/a//b",
	}
	for in, want := range cases {
		assert.Equal(t, want, leadingSlash(in), "input %q", in)
	}
}
