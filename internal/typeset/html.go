package typeset

import (
	"fmt"
	"html"
	"strings"
)

// DocumentHTML converts the resolved document body to HTML: sections
// become nested <section> elements with heading levels, blocks render by
// kind, and TOC placements expand to a linked table of contents.
func DocumentHTML(doc *Document) string {
	var b strings.Builder
	for _, node := range doc.Nodes {
		if node.Toc != nil {
			b.WriteString(renderToc(doc, node.Toc.Depth))
		}
		if node.Section != nil {
			renderSection(&b, node.Section)
		}
	}
	return b.String()
}

func renderSection(b *strings.Builder, sec *Section) {
	classes := ""
	if len(sec.CSSClasses) > 0 {
		classes = fmt.Sprintf(` class="%s"`, html.EscapeString(strings.Join(sec.CSSClasses, " ")))
	}
	fmt.Fprintf(b, `<section id="%s"%s>`+"\n", html.EscapeString(sectionAnchor(sec)), classes)

	level := sec.Level
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	if sec.Title != "" {
		fmt.Fprintf(b, "<h%d>%s</h%d>\n", level, html.EscapeString(sec.Title), level)
	}
	if sec.Subtitle != "" {
		fmt.Fprintf(b, `<p class="subtitle">%s</p>`+"\n", html.EscapeString(sec.Subtitle))
	}
	if len(sec.Authors) > 0 {
		fmt.Fprintf(b, `<p class="section-authors">%s</p>`+"\n", html.EscapeString(strings.Join(sec.Authors, ", ")))
	}
	for _, block := range sec.Blocks {
		b.WriteString(renderBlock(&block))
	}
	for i := range sec.Children {
		renderSection(b, &sec.Children[i])
	}
	b.WriteString("</section>\n")
}

// renderBlock renders one content block. Unknown kinds fall back to a
// plain paragraph rather than failing the render.
func renderBlock(block *Block) string {
	content := html.EscapeString(block.Content)
	classes := ""
	if len(block.CSSClasses) > 0 {
		classes = fmt.Sprintf(` class="%s"`, html.EscapeString(strings.Join(block.CSSClasses, " ")))
	}

	switch block.Kind {
	case "heading":
		return fmt.Sprintf("<h4%s>%s</h4>\n", classes, content)
	case "quote":
		cite := ""
		if c, ok := block.Attrs["cite"]; ok {
			cite = fmt.Sprintf(`<footer>%s</footer>`, html.EscapeString(c))
		}
		return fmt.Sprintf("<blockquote%s>%s%s</blockquote>\n", classes, content, cite)
	case "code":
		return fmt.Sprintf("<pre%s><code>%s</code></pre>\n", classes, content)
	case "image":
		src := block.Attrs["src"]
		alt := block.Attrs["alt"]
		return fmt.Sprintf(`<figure%s><img src="%s" alt="%s"><figcaption>%s</figcaption></figure>`+"\n",
			classes, html.EscapeString(src), html.EscapeString(alt), content)
	default:
		return fmt.Sprintf("<p%s>%s</p>\n", classes, content)
	}
}

// renderToc builds a nested list of links to every visible section down
// to depth levels (0 means unlimited).
func renderToc(doc *Document, depth int) string {
	var b strings.Builder
	b.WriteString(`<nav class="toc">` + "\n<ol>\n")
	for _, node := range doc.Nodes {
		if node.Section != nil {
			renderTocEntry(&b, node.Section, depth)
		}
	}
	b.WriteString("</ol>\n</nav>\n")
	return b.String()
}

func renderTocEntry(b *strings.Builder, sec *Section, depth int) {
	if depth > 0 && sec.Level > depth {
		return
	}
	fmt.Fprintf(b, `<li><a href="#%s">%s</a>`, html.EscapeString(sectionAnchor(sec)), html.EscapeString(sec.Title))
	if len(sec.Children) > 0 && (depth == 0 || sec.Level < depth) {
		b.WriteString("\n<ol>\n")
		for i := range sec.Children {
			renderTocEntry(b, &sec.Children[i], depth)
		}
		b.WriteString("</ol>\n")
	}
	b.WriteString("</li>\n")
}

// sectionAnchor prefers the immutable section id; titles can collide.
func sectionAnchor(sec *Section) string {
	if sec.ID != "" {
		return sec.ID
	}
	return "untitled"
}
