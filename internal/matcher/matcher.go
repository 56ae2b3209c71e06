package matcher

import (
	"sort"

	"tcgledger/internal"
	"tcgledger/internal/util"
)

const (
	diceWeight  = 0.65
	tokenWeight = 0.35
)

type Matcher struct {
	floor float64
	topK  int
	index *Index
}

func New(floor float64, topK int, items []internal.InventoryItem) *Matcher {
	if topK <= 0 {
		topK = 5
	}
	return &Matcher{floor: floor, topK: topK, index: BuildIndex(items)}
}

// Match returns ranked candidates, best first. Exact normalized-name
// matches always outrank fuzzy ones.
func (m *Matcher) Match(productName, condition string) []internal.MatchCandidate {
	query := util.NormalizeName(productName)
	if query == "" {
		return nil
	}
	wantCondition := util.NormalizeCondition(condition)

	if exact := m.index.ByName[query]; len(exact) > 0 {
		out := make([]internal.MatchCandidate, 0, len(exact))
		for _, item := range exact {
			out = append(out, internal.MatchCandidate{
				InventoryItemID: item.ID,
				Name:            item.Name,
				Condition:       item.Condition,
				Score:           1.0,
				IsExact:         true,
			})
		}
		m.sortCandidates(out, wantCondition)
		if len(out) > m.topK {
			out = out[:m.topK]
		}
		return out
	}

	queryTokens := util.Tokenize(productName)
	ids := map[int64]struct{}{}
	for _, token := range queryTokens {
		for id := range m.index.TokenToItemIDs[token] {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		for id := range m.index.ItemsByID {
			ids[id] = struct{}{}
		}
	}

	out := make([]internal.MatchCandidate, 0, len(ids))
	for id := range ids {
		item := m.index.ItemsByID[id]
		candidate := m.index.NormalizedByID[id]
		score := scoreName(query, candidate, queryTokens, util.Tokenize(candidate))
		if score < m.floor {
			continue
		}
		out = append(out, internal.MatchCandidate{
			InventoryItemID: item.ID,
			Name:            item.Name,
			Condition:       item.Condition,
			Score:           score,
		})
	}

	m.sortCandidates(out, wantCondition)
	if len(out) > m.topK {
		out = out[:m.topK]
	}
	return out
}

// Ties break by exact condition match, then most recently added item.
func (m *Matcher) sortCandidates(candidates []internal.MatchCandidate, wantCondition string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aCond := wantCondition != "" && util.NormalizeCondition(a.Condition) == wantCondition
		bCond := wantCondition != "" && util.NormalizeCondition(b.Condition) == wantCondition
		if aCond != bCond {
			return aCond
		}
		return m.index.ItemsByID[a.InventoryItemID].AddedAt > m.index.ItemsByID[b.InventoryItemID].AddedAt
	})
}

func scoreName(query, candidate string, queryTokens, candidateTokens []string) float64 {
	dice := util.DiceCoefficient(query, candidate)
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return dice
	}

	set := map[string]struct{}{}
	for _, t := range candidateTokens {
		set[t] = struct{}{}
	}
	overlap := 0
	for _, t := range queryTokens {
		if _, ok := set[t]; ok {
			overlap++
		}
	}
	tokenScore := float64(overlap) / float64(len(queryTokens))
	return diceWeight*dice + tokenWeight*tokenScore
}
