package geometry

import (
	"bytes"
	"encoding/xml"
)

// Node is a generic XML element tree. It backs both GML geometry parsing and
// the WFS-T transaction envelope, where dispatch is on local names because
// clients are inconsistent about namespace prefixes.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []Node     `xml:",any"`
	Text     string     `xml:",chardata"`
}

// ParseXML decodes an XML document into a Node tree.
func ParseXML(data []byte) (*Node, error) {
	var n Node
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Local returns the element's local name, ignoring its namespace.
func (n *Node) Local() string {
	return n.XMLName.Local
}

// Attr returns the value of the first attribute with the given local name,
// regardless of namespace, or "".
func (n *Node) Attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Find returns the first direct child with the given local name, or nil.
func (n *Node) Find(local string) *Node {
	for i := range n.Children {
		if n.Children[i].Local() == local {
			return &n.Children[i]
		}
	}
	return nil
}

// FindAll returns all direct children with the given local name.
func (n *Node) FindAll(local string) []*Node {
	var out []*Node
	for i := range n.Children {
		if n.Children[i].Local() == local {
			out = append(out, &n.Children[i])
		}
	}
	return out
}

// Descendants returns every element under n (excluding n itself) with the
// given local name, in document order.
func (n *Node) Descendants(local string) []*Node {
	var out []*Node
	for i := range n.Children {
		c := &n.Children[i]
		if c.Local() == local {
			out = append(out, c)
		}
		out = append(out, c.Descendants(local)...)
	}
	return out
}

// FirstChild returns the first child element, or nil.
func (n *Node) FirstChild() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return &n.Children[0]
}
