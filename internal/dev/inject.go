package dev

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// injectLiveReload adds the live-reload client to an HTML document unless it
// already has one. The script is appended to <body>; documents that cannot
// be parsed get it appended to the end.
func injectLiveReload(page string) string {
	if strings.Contains(page, LiveReloadMarker) || strings.Contains(page, "/hmr.js") {
		return page
	}

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return page + scriptTag()
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		return page + scriptTag()
	}

	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr:     []html.Attribute{{Key: "id", Val: LiveReloadMarker}},
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: LiveReloadScript})
	body.AppendChild(script)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return page + scriptTag()
	}
	return buf.String()
}

func scriptTag() string {
	return `<script id="` + LiveReloadMarker + `">` + LiveReloadScript + `</script>`
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
