package dataroma

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var pageLinkRe = regexp.MustCompile(`L=(\d+)`)

// ParsePortfolioPage extracts holding rows and the total page count from one
// grand-portfolio HTML page. A row counts when it carries both a td.sym and
// a td.stock cell with text. The page count is the highest L= page link
// inside div#pages, defaulting to 1 when no paginator is present.
func ParsePortfolioPage(r io.Reader) ([]Entry, int, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, 0, fmt.Errorf("dataroma: parsing page: %w", err)
	}

	var entries []Entry
	totalPages := 1
	pagesSeen := false

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "tr":
				symbol := rowCellText(n, "sym")
				stock := rowCellText(n, "stock")
				if symbol != "" && stock != "" {
					entries = append(entries, Entry{Symbol: cleanSymbol(symbol), Stock: stock})
				}
			case n.Data == "div" && !pagesSeen && attrVal(n, "id") == "pages":
				pagesSeen = true
				totalPages = maxPageLink(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return entries, totalPages, nil
}

// rowCellText returns the stripped text of the first td under row carrying
// the given class, or "" when the row has no such cell.
func rowCellText(row *html.Node, class string) string {
	cell := findCell(row, class)
	if cell == nil {
		return ""
	}
	return strippedText(cell)
}

func findCell(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "td" && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findCell(c, class); found != nil {
			return found
		}
	}
	return nil
}

// strippedText concatenates the text fragments under n, trimming whitespace
// around each fragment.
func strippedText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func maxPageLink(div *html.Node) int {
	highest := 1
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if m := pageLinkRe.FindStringSubmatch(attrVal(n, "href")); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
					highest = v
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(div)
	return highest
}

func attrVal(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
