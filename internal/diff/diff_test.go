package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testnerd/internal/types"
)

func page(url, dom string) *types.ConditionEvent {
	return &types.ConditionEvent{CurrentURL: url, DOMSnapshot: dom}
}

func TestPage(t *testing.T) {
	tests := []struct {
		name    string
		before  *types.ConditionEvent
		after   *types.ConditionEvent
		added   int
		removed int
		str     string
	}{
		{
			name:   "unchanged",
			before: page("https://a.test/", "<p>x</p>"),
			after:  page("https://a.test/", "<p>x</p>"),
			str:    "no change",
		},
		{
			name:    "overlay removed from minified markup",
			before:  page("https://a.test/", `<body><div id="banner"><button>Accept</button></div><button id="buy">Buy</button></body>`),
			after:   page("https://a.test/", `<body><button id="buy">Buy</button></body>`),
			removed: 4,
			str:     "+0 -4 DOM lines",
		},
		{
			name:   "navigation only",
			before: page("https://a.test/login", "<p>x</p>"),
			after:  page("https://a.test/home", "<p>x</p>"),
			str:    "url https://a.test/login -> https://a.test/home",
		},
		{
			name:    "navigation and content",
			before:  page("https://a.test/login", "<form></form>"),
			after:   page("https://a.test/home", "<main></main>"),
			added:   2,
			removed: 2,
			str:     "url https://a.test/login -> https://a.test/home, +2 -2 DOM lines",
		},
		{
			name:  "nil before",
			after: page("https://a.test/", "<p>x</p>"),
			added: 2,
			str:   "url  -> https://a.test/, +2 -0 DOM lines",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Page(tt.before, tt.after)
			assert.Equal(t, tt.added, s.Added)
			assert.Equal(t, tt.removed, s.Removed)
			assert.Equal(t, tt.str, s.String())
		})
	}
}

func TestPage_Samples(t *testing.T) {
	s := Page(page("u", "<a>\n<b>\n<c>"), page("u", "<a>\n<d>\n<e>\n<f>\n<g>\n<h>"))
	assert.Len(t, s.Samples, MaxSamples)
	assert.Equal(t, []string{"- <b>", "- <c>", "+ <d>", "+ <e>", "+ <f>"}, s.Samples)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, "<div>\n<p>\nhi</p>\n</div>\n", splitTags("<div><p>hi</p></div>"))
	assert.Equal(t, "", splitTags(""))
}
