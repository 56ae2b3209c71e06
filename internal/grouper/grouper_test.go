package grouper

import (
	"testing"

	"tcgledger/internal"
)

func TestAllocateProportionalWithRemainderOnFirst(t *testing.T) {
	// $42.00 over quantities 1, 2, 1 (total qty 4).
	shares := Allocate(4200, []int{1, 2, 1})

	if shares[0] != 1050 || shares[1] != 2100 || shares[2] != 1050 {
		t.Fatalf("shares %v", shares)
	}
	if shares[0]+shares[1]+shares[2] != 4200 {
		t.Fatalf("shares do not sum to total: %v", shares)
	}
}

func TestAllocateRemainder(t *testing.T) {
	// $10.00 over three equal quantities leaves a 1 cent remainder.
	shares := Allocate(1000, []int{1, 1, 1})

	if shares[0] != 334 || shares[1] != 333 || shares[2] != 333 {
		t.Fatalf("shares %v", shares)
	}

	var sum int64
	for _, s := range shares {
		sum += s
	}
	if sum != 1000 {
		t.Fatalf("sum %d", sum)
	}
}

func TestGroupMultiItemOrder(t *testing.T) {
	notif := internal.ParsedNotification{
		MessageID:       "<m1>",
		LayoutID:        "tcgplayer_body_items",
		OrderID:         "ORD-2002",
		OrderTotalCents: 3000,
		Currency:        "USD",
		Items: []internal.ParsedLineItem{
			{OrderID: "ORD-2002", ProductName: "Dragonite V", Quantity: 1, Currency: "USD"},
			{OrderID: "ORD-2002", ProductName: "Charizard ex #199/165", Quantity: 2, Currency: "USD"},
		},
	}

	sales := Group([]internal.ParsedNotification{notif}, "2026-08-27T00:00:00Z")
	if len(sales) != 1 {
		t.Fatalf("sales %d", len(sales))
	}

	sale := sales[0]
	if sale.OrderID != "ORD-2002" || sale.Synthetic {
		t.Fatalf("sale %+v", sale)
	}
	if len(sale.LineItems) != 2 {
		t.Fatalf("line items %d", len(sale.LineItems))
	}
	if sale.LineItems[0].AllocatedCents != 1000 || sale.LineItems[1].AllocatedCents != 2000 {
		t.Fatalf("allocations %d %d", sale.LineItems[0].AllocatedCents, sale.LineItems[1].AllocatedCents)
	}
}

func TestGroupAcrossMessages(t *testing.T) {
	a := internal.ParsedNotification{
		MessageID:       "<m1>",
		OrderID:         "ORD-1",
		OrderTotalCents: 2000,
		Items:           []internal.ParsedLineItem{{OrderID: "ORD-1", ProductName: "Mew ex #151/165", Quantity: 1}},
	}
	b := internal.ParsedNotification{
		MessageID:       "<m2>",
		OrderID:         "ORD-1",
		OrderTotalCents: 2000,
		Items:           []internal.ParsedLineItem{{OrderID: "ORD-1", ProductName: "Pikachu #025/165", Quantity: 1}},
	}

	sales := Group([]internal.ParsedNotification{a, b}, "2026-08-27T00:00:00Z")
	if len(sales) != 1 {
		t.Fatalf("expected one grouped sale, got %d", len(sales))
	}
	if len(sales[0].LineItems) != 2 {
		t.Fatalf("line items %d", len(sales[0].LineItems))
	}
}

func TestGroupSyntheticIDs(t *testing.T) {
	notif := internal.ParsedNotification{
		MessageID: "<no-order@x>",
		Items: []internal.ParsedLineItem{
			{ProductName: "Mew ex #151/165", Quantity: 1, PriceCents: 599},
			{ProductName: "Pikachu #025/165", Quantity: 1, PriceCents: 250},
		},
	}

	sales := Group([]internal.ParsedNotification{notif}, "2026-08-27T00:00:00Z")
	if len(sales) != 2 {
		t.Fatalf("sales %d", len(sales))
	}
	for _, s := range sales {
		if !s.Synthetic {
			t.Fatalf("expected synthetic sale: %+v", s)
		}
	}
	if sales[0].OrderID == sales[1].OrderID {
		t.Fatal("synthetic ids must be distinct")
	}
	if sales[0].OrderID != "msg:<no-order@x>#0" {
		t.Fatalf("synthetic id %q", sales[0].OrderID)
	}
	if sales[0].OrderTotalCents != 599 {
		t.Fatalf("synthetic total %d", sales[0].OrderTotalCents)
	}
}

func TestGroupSyntheticKeepsOrderTotal(t *testing.T) {
	notif := internal.ParsedNotification{
		MessageID:       "<subject-only@x>",
		OrderTotalCents: 1299,
		Currency:        "USD",
		Items:           []internal.ParsedLineItem{{ProductName: "Charizard ex #199/165", Quantity: 1}},
	}

	sales := Group([]internal.ParsedNotification{notif}, "2026-08-27T00:00:00Z")
	if len(sales) != 1 {
		t.Fatalf("sales %d", len(sales))
	}
	if !sales[0].Synthetic {
		t.Fatalf("expected synthetic sale: %+v", sales[0])
	}
	if sales[0].OrderTotalCents != 1299 {
		t.Fatalf("order total %d, want 1299", sales[0].OrderTotalCents)
	}
	if sales[0].LineItems[0].AllocatedCents != 1299 {
		t.Fatalf("allocated %d, want 1299", sales[0].LineItems[0].AllocatedCents)
	}
}

func TestGroupSyntheticSplitsTotalAcrossItems(t *testing.T) {
	notif := internal.ParsedNotification{
		MessageID:       "<two-idless@x>",
		OrderTotalCents: 1000,
		Items: []internal.ParsedLineItem{
			{ProductName: "A", Quantity: 1},
			{ProductName: "B", Quantity: 1},
		},
	}

	sales := Group([]internal.ParsedNotification{notif}, "2026-08-27T00:00:00Z")
	if len(sales) != 2 {
		t.Fatalf("sales %d", len(sales))
	}
	if sales[0].OrderTotalCents != 500 || sales[1].OrderTotalCents != 500 {
		t.Fatalf("totals %d %d, want 500 500", sales[0].OrderTotalCents, sales[1].OrderTotalCents)
	}
	if sales[0].OrderTotalCents+sales[1].OrderTotalCents != 1000 {
		t.Fatalf("totals do not sum to the order total")
	}
}

func TestGroupPerItemPricesSumToTotal(t *testing.T) {
	notif := internal.ParsedNotification{
		MessageID: "<m3>",
		OrderID:   "ORD-9",
		Items: []internal.ParsedLineItem{
			{OrderID: "ORD-9", ProductName: "A", Quantity: 1, PriceCents: 500},
			{OrderID: "ORD-9", ProductName: "B", Quantity: 1, PriceCents: 750},
		},
	}

	sales := Group([]internal.ParsedNotification{notif}, "2026-08-27T00:00:00Z")
	if sales[0].OrderTotalCents != 1250 {
		t.Fatalf("total %d", sales[0].OrderTotalCents)
	}
	if sales[0].LineItems[0].AllocatedCents != 500 || sales[0].LineItems[1].AllocatedCents != 750 {
		t.Fatalf("allocations %+v", sales[0].LineItems)
	}
}
