package cap

import (
	"strings"

	"github.com/antchfx/xmlquery"
)

// Child returns the first child element of n named name, or nil.
func Child(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

// Children returns every child element of n named name in document order.
func Children(n *xmlquery.Node, name string) []*xmlquery.Node {
	if n == nil {
		return nil
	}
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the text content of the first child named name with
// leading and trailing whitespace removed, so multi-line values such as
// description lose their outer blank lines and indentation. Inner
// whitespace is kept. The boolean is false when no such child exists.
func Lookup(n *xmlquery.Node, name string) (string, bool) {
	c := Child(n, name)
	if c == nil {
		return "", false
	}
	return strings.TrimSpace(c.InnerText()), true
}

// Optional is Lookup with absence rendered as the empty string. The value
// is whitespace-trimmed like Lookup's.
func Optional(n *xmlquery.Node, name string) string {
	v, _ := Lookup(n, name)
	return v
}

// Required is Lookup that fails with a MissingRequiredFieldError when the
// child is absent. A present but empty child is not an error. The value is
// whitespace-trimmed like Lookup's.
func Required(n *xmlquery.Node, name string) (string, error) {
	v, ok := Lookup(n, name)
	if !ok {
		return "", missing(n, name)
	}
	return v, nil
}

// RequiredChild returns the first child element named name or a
// MissingRequiredFieldError.
func RequiredChild(n *xmlquery.Node, name string) (*xmlquery.Node, error) {
	c := Child(n, name)
	if c == nil {
		return nil, missing(n, name)
	}
	return c, nil
}

func missing(parent *xmlquery.Node, name string) error {
	e := &MissingRequiredFieldError{Field: name}
	if parent != nil {
		e.Parent = parent.Data
	}
	return e
}
