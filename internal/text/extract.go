// Package text turns fetched content into a title, summary and chunks.
package text

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extract returns readable text for content of the given type. HTML is
// flattened to markdown-style text with headings and code fences; JSON is
// re-indented; anything else that is valid UTF-8 passes through.
func Extract(content []byte, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return extractHTML(content)
	case strings.Contains(ct, "json"):
		var buf bytes.Buffer
		if json.Indent(&buf, content, "", "  ") == nil {
			return buf.String()
		}
	}
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "")
	}
	return string(content)
}

// Title returns the document title: <title> for HTML, else the first
// markdown heading or non-empty line, capped at 200 characters.
func Title(content []byte, contentType string) string {
	if strings.Contains(strings.ToLower(contentType), "html") {
		if doc, err := html.Parse(bytes.NewReader(content)); err == nil {
			if n := find(doc, atom.Title); n != nil {
				if t := collapse(textOf(n)); t != "" {
					return clip(t, 200)
				}
			}
			if n := find(doc, atom.H1); n != nil {
				if t := collapse(textOf(n)); t != "" {
					return clip(t, 200)
				}
			}
		}
		return ""
	}
	for _, line := range strings.Split(Extract(content, contentType), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return clip(line, 200)
		}
	}
	return ""
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Footer: true, atom.Header: true, atom.Aside: true, atom.Form: true,
	atom.Svg: true, atom.Iframe: true, atom.Template: true, atom.Head: true,
}

var headingLevel = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

func extractHTML(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return string(content)
	}
	root := doc
	if body := find(doc, atom.Body); body != nil {
		root = body
	}
	if main := find(root, atom.Main); main != nil {
		root = main
	} else if article := find(root, atom.Article); article != nil {
		root = article
	}

	var b bytes.Buffer
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if lvl, ok := headingLevel[n.DataAtom]; ok {
				block(&b, strings.Repeat("#", lvl)+" "+collapse(textOf(n)))
				return
			}
			switch n.DataAtom {
			case atom.Pre:
				block(&b, "```\n"+strings.Trim(textOf(n), "\n")+"\n```")
				return
			case atom.Li:
				line(&b, "- "+collapse(textOf(n)))
				return
			case atom.Br:
				b.WriteString("\n")
				return
			case atom.P, atom.Div, atom.Section, atom.Table, atom.Tr, atom.Blockquote, atom.Ul, atom.Ol:
				b.WriteString("\n\n")
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
				b.WriteString("\n\n")
				return
			}
		}
		if n.Type == html.TextNode {
			if t := collapse(n.Data); t != "" {
				if last := b.Len() - 1; last >= 0 && b.Bytes()[last] != '\n' && b.Bytes()[last] != ' ' {
					b.WriteString(" ")
				}
				b.WriteString(t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return normalizeBlankLines(b.String())
}

func block(b *bytes.Buffer, s string) {
	if strings.TrimSpace(strings.Trim(s, "#`")) == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(s)
	b.WriteString("\n\n")
}

func line(b *bytes.Buffer, s string) {
	if strings.TrimSpace(strings.TrimPrefix(s, "-")) == "" {
		return
	}
	b.WriteString("\n")
	b.WriteString(s)
	b.WriteString("\n")
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
			l = ""
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
