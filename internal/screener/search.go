package screener

import (
	"sort"
	"strings"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
	"github.com/allaspectsdev/screenman/internal/session"
)

// maxSearchResults caps universe search responses.
const maxSearchResults = 15

// SearchUniverse returns symbols from the session's universe whose name
// contains the query, case-insensitively, sorted by name and capped at
// maxSearchResults.
func (s *Service) SearchUniverse(sess *session.Session, query string) ([]eodhd.Symbol, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if len(q) < 2 {
		return nil, apperr.New(apperr.KindInput, "Search query must be at least 2 characters long.")
	}
	if sess == nil || sess.ProviderUniverse == nil {
		return nil, apperr.New(apperr.KindNotFound, "No stock universe available. Run the screener first.")
	}

	universe := sess.ProviderUniverse
	codes := make([]string, 0, len(universe.Symbols))
	for code := range universe.Symbols {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	results := []eodhd.Symbol{}
	for _, code := range codes {
		payload := universe.Symbols[code]
		if payload == nil {
			continue
		}
		for _, sym := range payload.Payload {
			if strings.Contains(strings.ToLower(sym.Name), q) {
				results = append(results, sym)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}
	return results, nil
}

// SymbolRef identifies a provider symbol by code and exchange.
type SymbolRef struct {
	Code     string
	Exchange string
}

// UpdateMatchRequest is a manual correction to one match candidate: either
// select a provider symbol or mark the holding as not available.
type UpdateMatchRequest struct {
	DataromaSymbol string
	ProviderSymbol *SymbolRef
	NotAvailable   bool
}

// UpdateMatch applies a manual correction to the given session's match
// list, persists the session, and returns the updated candidate.
func (s *Service) UpdateMatch(sess *session.Session, req UpdateMatchRequest) (*match.Candidate, error) {
	if sess == nil || sess.Matches == nil {
		return nil, apperr.New(apperr.KindNotFound, "No match suggestions available. Run the screener.")
	}

	idx := -1
	for i := range sess.Matches {
		if sess.Matches[i].DataromaSymbol == req.DataromaSymbol {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.New(apperr.KindNotFound, "Match candidate not found")
	}

	var updated match.Candidate
	switch {
	case req.NotAvailable:
		updated = s.engine.Confirm(sess.Matches[idx], nil)
	case req.ProviderSymbol != nil:
		if sess.ProviderUniverse == nil {
			return nil, apperr.New(apperr.KindInput, "Stock universe missing. Re-run the screener.")
		}
		resolved := FindSymbol(sess.ProviderUniverse, req.ProviderSymbol.Code, req.ProviderSymbol.Exchange)
		if resolved == nil {
			return nil, apperr.New(apperr.KindInput, "Selected symbol not found in cached universe.")
		}
		updated = s.engine.Confirm(sess.Matches[idx], resolved)
	default:
		return nil, apperr.New(apperr.KindInput, "Provide a symbol or mark the candidate as not available.")
	}

	sess.Matches[idx] = updated
	if err := s.sessions.Save(sess); err != nil {
		return nil, err
	}
	return &sess.Matches[idx], nil
}

// FindSymbol locates a universe symbol by exact code and exchange.
func FindSymbol(universe *eodhd.Universe, code, exchange string) *eodhd.Symbol {
	if universe == nil {
		return nil
	}
	for _, payload := range universe.Symbols {
		if payload == nil {
			continue
		}
		for i := range payload.Payload {
			sym := &payload.Payload[i]
			if sym.Code == code && sym.Exchange == exchange {
				return sym
			}
		}
	}
	return nil
}
