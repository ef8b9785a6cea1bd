package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Holding is one symbol/company pair rendered into portfolio fixture HTML.
type Holding struct {
	Symbol string
	Stock  string
}

// PortfolioHTML renders a grand-portfolio page in the markup the scraper
// parses: one table row per holding with sym and stock cells, plus a
// paginator div when pages > 1.
func PortfolioHTML(pages int, holdings ...Holding) string {
	var b strings.Builder
	b.WriteString("<html><body>\n<table id=\"grid\">\n")
	b.WriteString("<tr><th>Symbol</th><th>Stock</th><th>Ownership</th></tr>\n")
	for _, h := range holdings {
		fmt.Fprintf(&b, "<tr><td class=\"sym\"><a href=\"/m/hist/p_hist.php?s=%s\">%s</a></td><td class=\"stock\">%s</td><td>3.1%%</td></tr>\n",
			h.Symbol, h.Symbol, h.Stock)
	}
	b.WriteString("</table>\n")
	if pages > 1 {
		b.WriteString("<div id=\"pages\"><ul>")
		for p := 1; p <= pages; p++ {
			fmt.Fprintf(&b, "<li><a href=\"/m/g/portfolio.php?L=%d\">%d</a></li>", p, p)
		}
		b.WriteString("</ul></div>\n")
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

// ExchangesJSON renders an exchange list document in the provider's wire
// format for the given exchange codes.
func ExchangesJSON(codes ...string) string {
	out := make([]map[string]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, map[string]string{
			"Code":         code,
			"Name":         code + " Exchange",
			"OperatingMIC": "X" + code,
			"Country":      "USA",
			"Currency":     "USD",
		})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// Listing is one symbol rendered into a SymbolsJSON document.
type Listing struct {
	Code string
	Name string
	Type string // defaults to "Common Stock"
}

// SymbolsJSON renders a symbol list document in the provider's wire format.
// All listings share the given exchange code.
func SymbolsJSON(exchange string, listings ...Listing) string {
	out := make([]map[string]string, 0, len(listings))
	for _, l := range listings {
		typ := l.Type
		if typ == "" {
			typ = "Common Stock"
		}
		out = append(out, map[string]string{
			"Code":     l.Code,
			"Name":     l.Name,
			"Exchange": exchange,
			"Country":  "USA",
			"Currency": "USD",
			"Type":     typ,
		})
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// FundamentalsJSON renders a minimal fundamentals document with the given
// headline metrics and a yearly cash flow / income statement pair that
// yields a 25% free cash flow margin.
func FundamentalsJSON(code, name string, trailingPE float64) string {
	doc := map[string]any{
		"General": map[string]any{
			"Code": code,
			"Name": name,
		},
		"Highlights": map[string]any{
			"PERatioTTM":                 trailingPE,
			"ForwardPE":                  trailingPE * 0.9,
			"ForwardAnnualDividendYield": "0.0210",
		},
		"Financials": map[string]any{
			"Cash_Flow": map[string]any{
				"yearly": map[string]any{
					"2024-12-31": map[string]any{"FreeCashFlow": 1500000000.0},
				},
			},
			"Income_Statement": map[string]any{
				"yearly": map[string]any{
					"2024-12-31": map[string]any{"totalRevenue": 6000000000.0},
				},
			},
		},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}
