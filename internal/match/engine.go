// Package match pairs scraped Dataroma holdings with provider listings. The
// engine tries progressively looser strategies per holding: a direct ticker
// lookup on the guessed exchange, a dot-to-hyphen retry for US share
// classes, an exact normalized-name lookup, and finally a fuzzy name scan.
package match

import (
	"fmt"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
)

// DefaultFuzzyThreshold is the score floor for fuzzy name matches.
const DefaultFuzzyThreshold = 85

// Candidate links one Dataroma holding to its best provider listing.
// Unmatched holdings keep a nil ProviderSymbol with NotAvailable set.
type Candidate struct {
	DataromaSymbol string        `json:"dataromaSymbol"`
	DataromaName   string        `json:"dataromaName"`
	ProviderSymbol *eodhd.Symbol `json:"providerSymbol,omitempty"`
	Confidence     float64       `json:"confidence"`
	Reasons        []string      `json:"reasons"`
	NotAvailable   bool          `json:"notAvailable"`
}

// sparseExchanges are venues whose listing files the provider routinely
// lacks; unmatched holdings there get a pointed reason.
var sparseExchanges = map[string]bool{"HK": true, "T": true, "KO": true}

// Engine matches holdings against provider listings.
type Engine struct {
	threshold int
}

// NewEngine creates an Engine. threshold is the fuzzy score floor (1-100);
// out-of-range values select the default.
func NewEngine(threshold int) *Engine {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultFuzzyThreshold
	}
	return &Engine{threshold: threshold}
}

// index holds the lookup structures for one listing set. nameKeys preserves
// first-seen order so fuzzy scans are deterministic.
type index struct {
	byExchange map[string]map[string]*eodhd.Symbol
	byName     map[string][]*eodhd.Symbol
	nameKeys   []string
}

func buildIndex(symbols []eodhd.Symbol) *index {
	idx := &index{
		byExchange: make(map[string]map[string]*eodhd.Symbol),
		byName:     make(map[string][]*eodhd.Symbol),
	}
	for i := range symbols {
		sym := &symbols[i]
		if sym.Code == "" || sym.Name == "" {
			continue
		}

		codes := idx.byExchange[sym.Exchange]
		if codes == nil {
			codes = make(map[string]*eodhd.Symbol)
			idx.byExchange[sym.Exchange] = codes
		}
		codes[sym.Code] = sym

		norm := NormalizeName(sym.Name)
		if _, ok := idx.byName[norm]; !ok {
			idx.nameKeys = append(idx.nameKeys, norm)
		}
		idx.byName[norm] = append(idx.byName[norm], sym)
	}
	return idx
}

// GenerateCandidates scores every holding against the given listings,
// returning one candidate per holding in input order.
func (e *Engine) GenerateCandidates(entries []dataroma.Entry, symbols []eodhd.Symbol) []Candidate {
	idx := buildIndex(symbols)
	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		candidates = append(candidates, e.matchEntry(idx, entry))
	}
	return candidates
}

func (e *Engine) matchEntry(idx *index, entry dataroma.Entry) Candidate {
	target := exchangeForSymbol(entry.Symbol)

	// Direct ticker lookup on the guessed exchange, with a dot-to-hyphen
	// retry for US share-class tickers (BRK.B is listed as BRK-B).
	if codes, ok := idx.byExchange[target]; ok {
		if sym, ok := codes[bareSymbol(entry.Symbol)]; ok {
			return matched(entry, sym, 1.0, "Direct symbol match")
		}
		if target == "US" && strings.Contains(entry.Symbol, ".") {
			if sym, ok := codes[strings.ReplaceAll(entry.Symbol, ".", "-")]; ok {
				return matched(entry, sym, 1.0, "Symbol match with dot-to-hyphen conversion")
			}
		}
	}

	// Exact normalized company name.
	normName := NormalizeName(entry.Stock)
	if group, ok := idx.byName[normName]; ok {
		return matched(entry, preferExchange(group, target), 0.9, "Exact normalized name match")
	}

	// Fuzzy scan over the distinct normalized names.
	if key, score, ok := e.bestFuzzyKey(idx.nameKeys, normName); ok {
		sym := preferExchange(idx.byName[key], target)
		return matched(entry, sym, float64(score)/100.0, fmt.Sprintf("Fuzzy name match (score: %d)", score))
	}

	reason := "No match found"
	if sparseExchanges[target] {
		if _, ok := idx.byExchange[target]; !ok {
			reason = fmt.Sprintf("Exchange %s data not available in EODHD files.", target)
		}
	}
	return Candidate{
		DataromaSymbol: entry.Symbol,
		DataromaName:   entry.Stock,
		Reasons:        []string{reason},
		NotAvailable:   true,
	}
}

// bestFuzzyKey returns the highest-scoring name key at or above the engine
// threshold. Ties keep the earliest key, so results do not depend on map
// iteration order.
func (e *Engine) bestFuzzyKey(keys []string, query string) (string, int, bool) {
	bestKey := ""
	bestScore := 0
	found := false
	for _, key := range keys {
		score := fuzzy.TokenSortRatio(query, key)
		if score >= e.threshold && score > bestScore {
			bestKey = key
			bestScore = score
			found = true
		}
	}
	return bestKey, bestScore, found
}

// preferExchange picks the first symbol listed on exchange, falling back to
// the group's first entry.
func preferExchange(group []*eodhd.Symbol, exchange string) *eodhd.Symbol {
	for _, sym := range group {
		if sym.Exchange == exchange {
			return sym
		}
	}
	return group[0]
}

func matched(entry dataroma.Entry, sym *eodhd.Symbol, confidence float64, reason string) Candidate {
	return Candidate{
		DataromaSymbol: entry.Symbol,
		DataromaName:   entry.Stock,
		ProviderSymbol: sym,
		Confidence:     confidence,
		Reasons:        []string{reason},
	}
}

// Confirm applies a manual decision to a copy of candidate. With a symbol
// the candidate becomes a confirmed match; with nil it is marked not
// available. Either way the decision carries full confidence.
func (e *Engine) Confirm(candidate Candidate, symbol *eodhd.Symbol) Candidate {
	if symbol != nil {
		candidate.ProviderSymbol = symbol
		candidate.Confidence = 1.0
		candidate.Reasons = []string{"Manually confirmed"}
		candidate.NotAvailable = false
		return candidate
	}
	candidate.ProviderSymbol = nil
	candidate.NotAvailable = true
	candidate.Confidence = 1.0
	candidate.Reasons = []string{"Manually marked as not available"}
	return candidate
}
