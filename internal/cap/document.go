package cap

import (
	"bytes"
	"errors"
	"strings"

	"github.com/antchfx/xmlquery"
)

const (
	alertElement     = "alert"
	signatureElement = "Signature"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\r", "&#xD;", "\n", "&#xA;", "\t", "&#x9;")
)

// Document is a sanitized alert feed: a container element whose children
// are namespace-free alert elements without signature blocks.
type Document struct {
	root *xmlquery.Node
}

// Sanitize parses a raw feed document, strips every namespace prefix and
// declaration, and removes each alert's Signature children.
// Sanitizing an already sanitized document changes nothing.
func Sanitize(raw []byte) (*Document, error) {
	top, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &MalformedDocumentError{Kind: "alert feed", Err: err}
	}

	var root *xmlquery.Node
	for n := top.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			root = n
			break
		}
	}
	if root == nil {
		return nil, &MalformedDocumentError{Kind: "alert feed", Err: errors.New("no root element")}
	}

	stripNamespaces(root)
	for _, al := range Children(root, alertElement) {
		for _, sig := range Children(al, signatureElement) {
			xmlquery.RemoveFromTree(sig)
		}
	}

	return &Document{root: root}, nil
}

// Root returns the container element.
func (d *Document) Root() *xmlquery.Node { return d.root }

// Alerts returns the alert children of the container in document order.
func (d *Document) Alerts() []*xmlquery.Node {
	return Children(d.root, alertElement)
}

// Remove detaches an alert from the document.
func (d *Document) Remove(al *xmlquery.Node) {
	xmlquery.RemoveFromTree(al)
}

// Bytes serializes the container element and everything below it.
func (d *Document) Bytes() []byte {
	var b bytes.Buffer
	render(&b, d.root)
	return b.Bytes()
}

func stripNamespaces(n *xmlquery.Node) {
	if n.Type == xmlquery.ElementNode {
		n.Prefix = ""
		n.NamespaceURI = ""
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
				continue
			}
			a.Name.Space = ""
			a.NamespaceURI = ""
			attrs = append(attrs, a)
		}
		n.Attr = attrs
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		stripNamespaces(c)
	}
}

func render(b *bytes.Buffer, n *xmlquery.Node) {
	switch n.Type {
	case xmlquery.ElementNode:
		b.WriteString("<" + n.Data)
		for _, a := range n.Attr {
			b.WriteString(" " + a.Name.Local + `="`)
			b.WriteString(attrEscaper.Replace(a.Value))
			b.WriteByte('"')
		}
		if n.FirstChild == nil {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c)
		}
		b.WriteString("</" + n.Data + ">")
	case xmlquery.TextNode, xmlquery.CharDataNode:
		b.WriteString(textEscaper.Replace(n.Data))
	case xmlquery.CommentNode:
		b.WriteString("<!--" + n.Data + "-->")
	}
}
