// Package anomaly scores request bodies with a flat, additive heuristic:
// suspicious keyword hits plus an oversize penalty. It is deliberately
// coarse; substring matches inside larger words still count.
package anomaly

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type MatchMode string

const (
	// MatchOccurrence adds the keyword penalty once per occurrence.
	MatchOccurrence MatchMode = "occurrence"
	// MatchPresence adds the keyword penalty once per distinct keyword found.
	MatchPresence MatchMode = "presence"
)

var ErrEmptyKeyword = errors.New("anomaly: empty keyword")

// DefaultKeywords is the SQL-injection token set used when none is configured.
var DefaultKeywords = []string{"drop", "delete", "union", "select *", "--", "' or 1=1"}

const (
	DefaultKeywordPenalty = 40
	DefaultSizeThreshold  = 2000
	DefaultSizePenalty    = 20
)

type Rules struct {
	Keywords       []string
	KeywordPenalty int
	// KeywordWeights overrides KeywordPenalty for individual keywords.
	KeywordWeights map[string]int
	Match          MatchMode
	// SizeThreshold is exclusive: a body longer than this gets SizePenalty.
	// Zero disables the size signal.
	SizeThreshold int
	SizePenalty   int
}

func DefaultRules() Rules {
	return Rules{
		Keywords:       append([]string(nil), DefaultKeywords...),
		KeywordPenalty: DefaultKeywordPenalty,
		Match:          MatchOccurrence,
		SizeThreshold:  DefaultSizeThreshold,
		SizePenalty:    DefaultSizePenalty,
	}
}

type keyword struct {
	text   string
	weight int
}

// Scorer is immutable after New and safe for concurrent use.
type Scorer struct {
	keywords      []keyword
	presence      bool
	sizeThreshold int
	sizePenalty   int
}

func New(r Rules) (*Scorer, error) {
	if r.KeywordPenalty < 0 || r.SizePenalty < 0 {
		return nil, fmt.Errorf("anomaly: penalties must be >= 0")
	}
	if r.SizeThreshold < 0 {
		return nil, fmt.Errorf("anomaly: size threshold must be >= 0")
	}

	s := &Scorer{sizeThreshold: r.SizeThreshold, sizePenalty: r.SizePenalty}
	switch r.Match {
	case "", MatchOccurrence:
	case MatchPresence:
		s.presence = true
	default:
		return nil, fmt.Errorf("anomaly: unknown match mode %q", r.Match)
	}

	weights := make(map[string]int, len(r.KeywordWeights))
	for k, w := range r.KeywordWeights {
		if w < 0 {
			return nil, fmt.Errorf("anomaly: weight for %q must be >= 0", k)
		}
		weights[strings.ToLower(k)] = w
	}

	seen := make(map[string]bool, len(r.Keywords))
	for _, k := range r.Keywords {
		k = strings.ToLower(k)
		if strings.TrimSpace(k) == "" {
			return nil, ErrEmptyKeyword
		}
		if seen[k] {
			continue
		}
		seen[k] = true

		w := r.KeywordPenalty
		if ow, ok := weights[k]; ok {
			w = ow
		}
		s.keywords = append(s.keywords, keyword{text: k, weight: w})
	}
	return s, nil
}

// Score returns the risk score of body. Empty bodies score 0.
func (s *Scorer) Score(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	text := strings.ToLower(string(body))

	score := 0
	for _, k := range s.keywords {
		n := strings.Count(text, k.text)
		if n == 0 {
			continue
		}
		if s.presence {
			n = 1
		}
		score += n * k.weight
	}
	if s.sizeThreshold > 0 && len(body) > s.sizeThreshold {
		score += s.sizePenalty
	}
	return score
}

// Hits lists the distinct keywords found in body, sorted.
func (s *Scorer) Hits(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	text := strings.ToLower(string(body))

	var out []string
	for _, k := range s.keywords {
		if strings.Contains(text, k.text) {
			out = append(out, k.text)
		}
	}
	sort.Strings(out)
	return out
}

// Keywords returns the normalized keyword set.
func (s *Scorer) Keywords() []string {
	out := make([]string, len(s.keywords))
	for i, k := range s.keywords {
		out[i] = k.text
	}
	return out
}
