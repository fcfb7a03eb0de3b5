package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testnerd/internal/types"
)

const shopDOM = `<!doctype html>
<html><head><title>Checkout</title><style>.x{}</style></head>
<body class="modal-open">
  <div id="app">
    <form name="pay" class="form">
      <input name="email" type="email">
      <input name="token" type="hidden" value="abc">
      <button id="submit" class="btn btn-primary" data-test="pay-now">Pay now</button>
    </form>
    <ul class="items"><li class="item">A</li><li class="item sold">B</li></ul>
  </div>
  <div class="modal" role="dialog" aria-modal="true">
    <button id="banner-close" class="close">Close</button>
  </div>
  <div id="ghost" style="display: none"><a href="#" id="hidden-link">Hidden</a></div>
  <iframe id="payframe" src="/frame"></iframe>
</body></html>`

func TestDocumentQuery(t *testing.T) {
	doc, err := ParseDocument(shopDOM)
	require.NoError(t, err)

	tests := []struct {
		selector string
		want     int
	}{
		{"#submit", 1},
		{"button", 2},
		{".btn.btn-primary", 1},
		{"li.item", 2},
		{"li.item.sold", 1},
		{"[data-test=pay-now]", 1},
		{`[data-test="pay-now"]`, 1},
		{"[data-test^=pay]", 1},
		{"[data-test$=now]", 1},
		{"[data-test*=y-n]", 1},
		{"[class~=sold]", 1},
		{"input[type]", 2},
		{"form input", 2},
		{"#app > form > button", 1},
		{"#app > button", 0},
		{"body .close", 1},
		{"#submit, #banner-close", 2},
		{"#missing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			nodes, err := doc.Query(tt.selector)
			require.NoError(t, err)
			assert.Len(t, nodes, tt.want)
		})
	}
}

func TestDocumentQuery_Unsupported(t *testing.T) {
	doc, err := ParseDocument(shopDOM)
	require.NoError(t, err)

	for _, sel := range []string{"li + li", "a:hover", "[data-test", "div >", "#"} {
		_, err := doc.Query(sel)
		assert.ErrorIs(t, err, ErrUnsupportedLocator, sel)
	}
}

func TestDocumentLocate(t *testing.T) {
	doc, err := ParseDocument(shopDOM)
	require.NoError(t, err)

	nodes, err := doc.Locate(types.Locator{Strategy: types.LocatorText, Value: "Pay  now"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	nodes, err = doc.Locate(types.Locator{Strategy: types.LocatorName, Value: "email"})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	_, err = doc.Locate(types.Locator{Strategy: types.LocatorXPath, Value: "//button"})
	assert.ErrorIs(t, err, ErrUnsupportedLocator)
}

func TestVisibility(t *testing.T) {
	doc, err := ParseDocument(shopDOM)
	require.NoError(t, err)

	link, err := doc.Query("#hidden-link")
	require.NoError(t, err)
	require.Len(t, link, 1)
	assert.False(t, Visible(link[0]))
	assert.Equal(t, []string{"Hidden via display:none (ancestor <div>)"}, HiddenBy(link[0]))

	token, err := doc.Query("[name=token]")
	require.NoError(t, err)
	assert.Contains(t, HiddenBy(token[0]), "Hidden input")

	submit, err := doc.Query("#submit")
	require.NoError(t, err)
	assert.True(t, Visible(submit[0]))
}

func TestDocumentText(t *testing.T) {
	doc, err := ParseDocument(shopDOM)
	require.NoError(t, err)

	assert.Equal(t, "Checkout", doc.Title())
	body := doc.BodyText()
	assert.Contains(t, body, "Pay now")
	assert.NotContains(t, body, ".x{}")
}
