package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"testnerd/internal/types"
)

// =============================================================================
// STATIC DOM
// =============================================================================

// Document is a parsed DOM snapshot. It supports the subset of CSS selectors
// test suites actually use for locators: type, #id, .class, attribute
// predicates, descendant and child combinators, and selector groups.
type Document struct {
	root *html.Node
}

// ParseDocument parses an HTML snapshot. An empty string yields an empty document.
func ParseDocument(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse dom snapshot: %w", err)
	}
	return &Document{root: root}, nil
}

// Query returns the elements matching a CSS selector in document order.
func (d *Document) Query(selector string) ([]*html.Node, error) {
	group, err := parseSelectorGroup(selector)
	if err != nil {
		return nil, err
	}
	return d.All(func(n *html.Node) bool {
		for _, c := range group {
			if c.matches(n) {
				return true
			}
		}
		return false
	}), nil
}

// Locate resolves a locator against the document.
func (d *Document) Locate(loc types.Locator) ([]*html.Node, error) {
	if loc.Strategy == types.LocatorText {
		want := normalizeSpace(loc.Value)
		return d.All(func(n *html.Node) bool {
			return want != "" && strings.Contains(normalizeSpace(OwnText(n)), want)
		}), nil
	}
	css, ok := loc.CSS()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, loc)
	}
	return d.Query(css)
}

// All returns every element node accepted by keep, in document order.
func (d *Document) All(keep func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && keep(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if d.root != nil {
		walk(d.root)
	}
	return out
}

// Title returns the text of the first <title> element.
func (d *Document) Title() string {
	for _, n := range d.All(func(n *html.Node) bool { return n.DataAtom == atom.Title }) {
		return strings.TrimSpace(TextContent(n))
	}
	return ""
}

// BodyText returns the normalized visible text of the document.
func (d *Document) BodyText() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && !rendersContent(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if d.root != nil {
		walk(d.root)
	}
	return normalizeSpace(b.String())
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// Classes returns the class list of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, have := range Classes(n) {
		if have == c {
			return true
		}
	}
	return false
}

// TextContent returns the concatenated text below n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// OwnText returns the text of n's direct text children.
func OwnText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// Visible reports whether n and all its ancestors render.
func Visible(n *html.Node) bool {
	return len(HiddenBy(n)) == 0
}

// HiddenBy lists the static reasons n is not rendered, walking up the
// ancestor chain. Computed styles from stylesheets are not visible in a
// snapshot; only attributes and inline style count.
func HiddenBy(n *html.Node) []string {
	var reasons []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		self := cur == n
		add := func(r string) {
			if !self {
				r += " (ancestor <" + cur.Data + ">)"
			}
			reasons = append(reasons, r)
		}
		if !rendersContent(cur) {
			add("Non-rendered element <" + cur.Data + ">")
		}
		if _, ok := Attr(cur, "hidden"); ok {
			add("Hidden via hidden attribute")
		}
		if v, _ := Attr(cur, "aria-hidden"); strings.EqualFold(v, "true") {
			add("Marked as aria-hidden")
		}
		if cur.DataAtom == atom.Input {
			if v, _ := Attr(cur, "type"); strings.EqualFold(v, "hidden") {
				add("Hidden input")
			}
		}
		style := inlineStyle(cur)
		switch {
		case style["display"] == "none":
			add("Hidden via display:none")
		case style["visibility"] == "hidden":
			add("Hidden via visibility:hidden")
		case style["opacity"] == "0":
			add("Hidden via opacity:0")
		}
	}
	return reasons
}

func rendersContent(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Head, atom.Noscript, atom.Title, atom.Meta, atom.Link:
		return false
	}
	return true
}

func inlineStyle(n *html.Node) map[string]string {
	raw, ok := Attr(n, "style")
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, decl := range strings.Split(raw, ";") {
		k, v, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// =============================================================================
// SELECTORS
// =============================================================================

type attrSel struct {
	name string
	op   string // "", "=", "~=", "*=", "^=", "$=", "|="
	val  string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSel
}

type selStep struct {
	sel   compound
	child bool // combinator linking the previous step to this one is '>'
}

type complexSel []selStep

func parseSelectorGroup(s string) ([]complexSel, error) {
	parts, err := splitOutside(s, ',')
	if err != nil {
		return nil, err
	}
	group := make([]complexSel, 0, len(parts))
	for _, p := range parts {
		c, err := parseComplex(p)
		if err != nil {
			return nil, err
		}
		group = append(group, c)
	}
	return group, nil
}

func splitOutside(s string, sep byte) ([]string, error) {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced selector %q", ErrUnsupportedLocator, s)
	}
	return append(parts, s[start:]), nil
}

func parseComplex(s string) (complexSel, error) {
	var (
		out     complexSel
		cur     strings.Builder
		child   bool
		depth   int
		quote   byte
		pending bool
	)
	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		c, err := parseCompound(cur.String())
		if err != nil {
			return err
		}
		out = append(out, selStep{sel: c, child: child && len(out) > 0})
		cur.Reset()
		child = false
		pending = false
		return nil
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			cur.WriteByte(ch)
			continue
		}
		switch {
		case ch == '"' || ch == '\'':
			quote = ch
			cur.WriteByte(ch)
		case ch == '[':
			depth++
			cur.WriteByte(ch)
		case ch == ']':
			depth--
			cur.WriteByte(ch)
		case depth == 0 && (ch == ' ' || ch == '\t' || ch == '\n'):
			if err := flush(); err != nil {
				return nil, err
			}
			pending = len(out) > 0
		case depth == 0 && ch == '>':
			if err := flush(); err != nil {
				return nil, err
			}
			child = true
			pending = true
		case depth == 0 && (ch == '+' || ch == '~'):
			return nil, fmt.Errorf("%w: sibling combinator in %q", ErrUnsupportedLocator, s)
		default:
			cur.WriteByte(ch)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 || (pending && child) {
		return nil, fmt.Errorf("%w: empty selector %q", ErrUnsupportedLocator, s)
	}
	return out, nil
}

func isIdentByte(ch byte) bool {
	return ch == '-' || ch == '_' || ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= 0x80
}

func readIdent(s string, i int) (string, int) {
	j := i
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	return s[i:j], j
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	if i < len(s) && s[i] == '*' {
		i++
	} else if i < len(s) && isIdentByte(s[i]) {
		c.tag, i = readIdent(s, i)
		c.tag = strings.ToLower(c.tag)
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			var id string
			id, i = readIdent(s, i+1)
			if id == "" {
				return c, fmt.Errorf("%w: empty id in %q", ErrUnsupportedLocator, s)
			}
			c.id = id
		case '.':
			var cls string
			cls, i = readIdent(s, i+1)
			if cls == "" {
				return c, fmt.Errorf("%w: empty class in %q", ErrUnsupportedLocator, s)
			}
			c.classes = append(c.classes, cls)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("%w: unterminated attribute in %q", ErrUnsupportedLocator, s)
			}
			a, err := parseAttr(s[i+1 : i+end])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, a)
			i += end + 1
		default:
			return c, fmt.Errorf("%w: %q", ErrUnsupportedLocator, s)
		}
	}
	return c, nil
}

func parseAttr(body string) (attrSel, error) {
	for _, op := range []string{"~=", "*=", "^=", "$=", "|=", "="} {
		if idx := strings.Index(body, op); idx > 0 {
			val := strings.TrimSpace(body[idx+len(op):])
			if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
				val = val[1 : len(val)-1]
			}
			return attrSel{
				name: strings.ToLower(strings.TrimSpace(body[:idx])),
				op:   op,
				val:  val,
			}, nil
		}
	}
	name := strings.ToLower(strings.TrimSpace(body))
	if name == "" {
		return attrSel{}, fmt.Errorf("%w: empty attribute selector", ErrUnsupportedLocator)
	}
	return attrSel{name: name}, nil
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && !strings.EqualFold(n.Data, c.tag) {
		return false
	}
	if c.id != "" {
		if id, _ := Attr(n, "id"); id != c.id {
			return false
		}
	}
	for _, cls := range c.classes {
		if !HasClass(n, cls) {
			return false
		}
	}
	for _, a := range c.attrs {
		if !a.matches(n) {
			return false
		}
	}
	return true
}

func (a attrSel) matches(n *html.Node) bool {
	v, ok := Attr(n, a.name)
	if !ok {
		return false
	}
	switch a.op {
	case "":
		return true
	case "=":
		return v == a.val
	case "~=":
		for _, f := range strings.Fields(v) {
			if f == a.val {
				return true
			}
		}
		return false
	case "*=":
		return a.val != "" && strings.Contains(v, a.val)
	case "^=":
		return a.val != "" && strings.HasPrefix(v, a.val)
	case "$=":
		return a.val != "" && strings.HasSuffix(v, a.val)
	case "|=":
		return v == a.val || strings.HasPrefix(v, a.val+"-")
	}
	return false
}

func (c complexSel) matches(n *html.Node) bool {
	last := len(c) - 1
	if !c[last].sel.matches(n) {
		return false
	}
	return c.matchAncestors(last-1, n, c[last].child)
}

func (c complexSel) matchAncestors(i int, n *html.Node, child bool) bool {
	if i < 0 {
		return true
	}
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if c[i].sel.matches(p) && c.matchAncestors(i-1, p, c[i].child) {
			return true
		}
		if child {
			return false
		}
	}
	return false
}
