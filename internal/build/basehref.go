package build

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// InjectBaseHref adds <base href="href"> to the head of doc unless a base element exists.
// Apps built with absolute asset paths then resolve them below their hosting prefix.
func InjectBaseHref(doc []byte, href string) ([]byte, bool, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, false, fmt.Errorf("parse html: %w", err)
	}
	head := findElement(root, atom.Head)
	if head == nil {
		return nil, false, errors.New("document has no head element")
	}
	if findElement(head, atom.Base) != nil {
		return doc, false, nil
	}

	base := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Base,
		Data:     "base",
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	}
	head.InsertBefore(base, head.FirstChild)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, false, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), true, nil
}

// InjectBaseHrefFile rewrites the file at path in place. A missing file is not an error.
func InjectBaseHrefFile(path, href string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	out, changed, err := InjectBaseHref(data, href)
	if err != nil || !changed {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, info.Mode().Perm())
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
