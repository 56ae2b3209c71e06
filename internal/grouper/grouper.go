package grouper

import (
	"fmt"

	"tcgledger/internal"
)

func Group(notifs []internal.ParsedNotification, detectedAt string) []internal.Sale {
	byOrder := map[string]*internal.Sale{}
	order := []string{}

	for _, notif := range notifs {
		shares := syntheticShares(notif)

		for i, item := range notif.Items {
			orderID := item.OrderID
			synthetic := false
			if orderID == "" {
				orderID = fmt.Sprintf("msg:%s#%d", notif.MessageID, i)
				synthetic = true
			}

			sale, ok := byOrder[orderID]
			if !ok {
				sale = &internal.Sale{
					OrderID:         orderID,
					Synthetic:       synthetic,
					OrderTotalCents: notif.OrderTotalCents,
					Currency:        notif.Currency,
					OrderDate:       notif.OrderDate,
					DetectedAt:      detectedAt,
				}
				byOrder[orderID] = sale
				order = append(order, orderID)
			}
			sale.LineItems = append(sale.LineItems, internal.SaleLineItem{ParsedLineItem: item})

			if synthetic {
				if item.PriceCents > 0 {
					sale.OrderTotalCents = item.PriceCents
				} else {
					sale.OrderTotalCents = shares[i]
				}
			}
		}
	}

	out := make([]internal.Sale, 0, len(order))
	for _, orderID := range order {
		sale := byOrder[orderID]
		allocate(sale)
		out = append(out, *sale)
	}
	return out
}

// syntheticShares splits a notification's order total across its id-less,
// unpriced items, keyed by item index.
func syntheticShares(notif internal.ParsedNotification) map[int]int64 {
	shares := map[int]int64{}
	if notif.OrderTotalCents <= 0 {
		return shares
	}

	var idx []int
	for i, item := range notif.Items {
		if item.OrderID == "" && item.PriceCents <= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return shares
	}

	quantities := make([]int, len(idx))
	for j, i := range idx {
		quantities[j] = notif.Items[i].Quantity
	}
	for j, share := range Allocate(notif.OrderTotalCents, quantities) {
		shares[idx[j]] = share
	}
	return shares
}

func allocate(sale *internal.Sale) {
	allPriced := len(sale.LineItems) > 0
	var priced int64
	for _, li := range sale.LineItems {
		if li.PriceCents <= 0 {
			allPriced = false
			break
		}
		priced += li.PriceCents
	}

	if allPriced {
		for i := range sale.LineItems {
			sale.LineItems[i].AllocatedCents = sale.LineItems[i].PriceCents
		}
		sale.OrderTotalCents = priced
		return
	}

	quantities := make([]int, len(sale.LineItems))
	for i, li := range sale.LineItems {
		quantities[i] = li.Quantity
	}
	shares := Allocate(sale.OrderTotalCents, quantities)
	for i := range sale.LineItems {
		sale.LineItems[i].AllocatedCents = shares[i]
	}
}

// Allocate splits totalCents proportionally by quantity; the division
// remainder goes to the first item.
func Allocate(totalCents int64, quantities []int) []int64 {
	out := make([]int64, len(quantities))
	if len(quantities) == 0 || totalCents == 0 {
		return out
	}

	var totalQty int64
	for _, q := range quantities {
		if q > 0 {
			totalQty += int64(q)
		}
	}
	if totalQty == 0 {
		out[0] = totalCents
		return out
	}

	var allocated int64
	for i, q := range quantities {
		if q < 0 {
			q = 0
		}
		out[i] = totalCents * int64(q) / totalQty
		allocated += out[i]
	}
	out[0] += totalCents - allocated
	return out
}
