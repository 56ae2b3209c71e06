package matcher

import (
	"tcgledger/internal"
	"tcgledger/internal/util"
)

// Index is rebuilt per scan over one inventory snapshot.
type Index struct {
	ItemsByID      map[int64]internal.InventoryItem
	ByName         map[string][]internal.InventoryItem
	TokenToItemIDs map[string]map[int64]struct{}
	NormalizedByID map[int64]string
}

func BuildIndex(items []internal.InventoryItem) *Index {
	idx := &Index{
		ItemsByID:      map[int64]internal.InventoryItem{},
		ByName:         map[string][]internal.InventoryItem{},
		TokenToItemIDs: map[string]map[int64]struct{}{},
		NormalizedByID: map[int64]string{},
	}

	for _, item := range items {
		idx.ItemsByID[item.ID] = item
		norm := util.NormalizeName(item.Name)
		idx.NormalizedByID[item.ID] = norm
		idx.ByName[norm] = append(idx.ByName[norm], item)

		for _, token := range util.Tokenize(item.Name) {
			if _, ok := idx.TokenToItemIDs[token]; !ok {
				idx.TokenToItemIDs[token] = map[int64]struct{}{}
			}
			idx.TokenToItemIDs[token][item.ID] = struct{}{}
		}
	}

	return idx
}
