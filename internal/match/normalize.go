package match

import (
	"regexp"
	"strings"
)

var (
	legalSuffixRe = regexp.MustCompile(`\s+(?:inc|corp|ltd|plc|co|group|holdings|hldgs)\b`)
	shareClassRe  = regexp.MustCompile(`\s+cl\s+[a-z]\b`)
)

// NormalizeName reduces a company name to a comparable form: lowercased,
// dots and commas dropped, legal suffixes and share-class markers removed.
// The result is stable under repeated application.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, ".", "")
	name = strings.ReplaceAll(name, ",", "")
	name = legalSuffixRe.ReplaceAllString(name, "")
	name = shareClassRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// exchangeSuffixes maps Dataroma ticker suffixes to EODHD exchange codes.
var exchangeSuffixes = map[string]string{
	"KS": "KO",
	"SZ": "SHE",
	"SS": "SHG",
	"L":  "LSE",
	"TO": "TO",
	"V":  "V",
	"DE": "XETRA",
	"HK": "HK",
	"T":  "T",
}

// exchangeForSymbol guesses the EODHD exchange for a Dataroma ticker from
// the portion after its last dot. Unknown suffixes and plain tickers resolve
// to US.
func exchangeForSymbol(symbol string) string {
	i := strings.LastIndex(symbol, ".")
	if i < 0 {
		return "US"
	}
	if code, ok := exchangeSuffixes[symbol[i+1:]]; ok {
		return code
	}
	return "US"
}

// bareSymbol strips everything from the first dot onward.
func bareSymbol(symbol string) string {
	if i := strings.Index(symbol, "."); i >= 0 {
		return symbol[:i]
	}
	return symbol
}
