package recon

import (
	"context"
	"testing"
	"time"

	"tcgledger/internal"
	"tcgledger/internal/config"
	"tcgledger/internal/mail"
	"tcgledger/internal/storage"
)

type fakeConnector struct {
	msgs []internal.RawMessage
	err  error

	started chan struct{}
	release chan struct{}
}

func (f *fakeConnector) FetchCandidates(ctx context.Context, filter mail.Filter) ([]internal.RawMessage, error) {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func rawMsg(id, subject, body string) internal.RawMessage {
	raw := "Subject: " + subject + "\r\n" +
		"From: sales@tcgplayer.com\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body
	return internal.RawMessage{
		Provider:  "imap",
		MessageID: id,
		Subject:   subject,
		From:      "sales@tcgplayer.com",
		Raw:       []byte(raw),
	}
}

func saleMsg(id, orderID, total string) internal.RawMessage {
	body := "Order: " + orderID + "\n" +
		"Order Total: " + total + "\n\n" +
		"ORDER DETAILS\n" +
		"1 Mew ex - 151/165/Near Mint Holofoil\n" +
		"Remember to ship this order no later than 48 hours after the order date of 1/26/2026.\n"
	return rawMsg(id, "Your TCGplayer.com items of Mew ex - 151/165 have sold!", body)
}

func testConfig() config.Config {
	return config.Config{
		MailLabel:           "INBOX",
		SenderPatterns:      []string{"tcgplayer"},
		SubjectPatterns:     []string{"have sold", "order"},
		LookbackDays:        14,
		FetchMax:            50,
		RetryAttempts:       1,
		RetryBackoffMs:      1,
		MatchFloorThreshold: 0.55,
		MatchTopK:           5,
		DefaultCurrency:     "USD",
	}
}

func newTestController(t *testing.T, conn mail.Connector, cfg config.Config) (*Controller, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewController(db, conn, cfg), db
}

func TestScanQueuesNewSale(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{saleMsg("<a@x>", "ORD-1001", "$12.99")}}
	c, _ := newTestController(t, conn, testConfig())

	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Fetched != 1 || report.Parsed != 1 || report.NewPending != 1 {
		t.Fatalf("report %+v", report)
	}

	pending, err := c.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending %d", len(pending))
	}
	sale := pending[0].Sale
	if sale.OrderID != "ORD-1001" {
		t.Errorf("order id %q", sale.OrderID)
	}
	if len(sale.LineItems) != 1 || sale.LineItems[0].AllocatedCents != 1299 {
		t.Errorf("line items %+v", sale.LineItems)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{saleMsg("<a@x>", "ORD-1001", "$12.99")}}
	c, _ := newTestController(t, conn, testConfig())

	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if report.NewPending != 0 || report.AlreadyHandled != 1 {
		t.Fatalf("second scan report %+v", report)
	}

	pending, err := c.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending %d after double scan, want 1", len(pending))
	}
}

func TestConfirmedOrderNeverRequeues(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{saleMsg("<a@x>", "ORD-1001", "$12.99")}}
	cfg := testConfig()
	c, db := newTestController(t, conn, cfg)

	itemID, err := db.InsertInventoryItem(internal.InventoryItem{
		Name:           "Mew ex #151/165",
		Condition:      "Near Mint Holofoil",
		QuantityOnHand: 2,
		CostBasisCents: 800,
	})
	if err != nil {
		t.Fatalf("InsertInventoryItem: %v", err)
	}

	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	pending, err := c.ListPending()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending %d err %v", len(pending), err)
	}

	result, err := c.Confirm(pending[0].ID, []storage.ConfirmSelection{
		{LineIndex: 0, InventoryItemID: itemID, CostBasisCents: 800},
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].ProfitCents != 499 {
		t.Fatalf("records %+v", result.Records)
	}

	item, err := db.GetInventoryItem(itemID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	if item.QuantityOnHand != 1 {
		t.Errorf("quantityOnHand %d, want 1", item.QuantityOnHand)
	}

	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if report.NewPending != 0 || report.AlreadyHandled != 1 {
		t.Errorf("confirmed order resurfaced: %+v", report)
	}
}

func TestDismissedOrderNeverRequeues(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{saleMsg("<a@x>", "ORD-1001", "$12.99")}}
	c, _ := newTestController(t, conn, testConfig())

	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	pending, err := c.ListPending()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending %d err %v", len(pending), err)
	}

	if err := c.Dismiss(pending[0].ID); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if report.NewPending != 0 || report.AlreadyHandled != 1 {
		t.Errorf("dismissed order resurfaced: %+v", report)
	}
}

func TestScanCountsUnrecognized(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{
		rawMsg("<promo@x>", "Weekly deals on singles", "Hot deals inside!\n"),
		saleMsg("<sale@x>", "ORD-1002", "$5.99"),
	}}
	c, db := newTestController(t, conn, testConfig())

	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Unrecognized != 1 || report.Parsed != 1 || report.NewPending != 1 {
		t.Fatalf("report %+v", report)
	}

	count, err := db.CountMessagesByOutcome(internal.OutcomeUnrecognized)
	if err != nil {
		t.Fatalf("CountMessagesByOutcome: %v", err)
	}
	if count != 1 {
		t.Errorf("unrecognized messages %d, want 1", count)
	}
}

func TestScanAllocatesTotalAcrossLines(t *testing.T) {
	body := "Order: ORD-2002\n" +
		"Order Total: $30.00\n\n" +
		"ORDER DETAILS\n" +
		"1\nDragonite V/Near Mint Holofoil\n" +
		"2\nCharizard ex - 199/165/Lightly Played\n"
	conn := &fakeConnector{msgs: []internal.RawMessage{
		rawMsg("<multi@x>", "Your TCGplayer.com items have sold!", body),
	}}
	c, _ := newTestController(t, conn, testConfig())

	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	pending, err := c.ListPending()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending %d err %v", len(pending), err)
	}

	lines := pending[0].Sale.LineItems
	if len(lines) != 2 {
		t.Fatalf("lines %d: %+v", len(lines), lines)
	}
	if lines[0].AllocatedCents != 1000 || lines[1].AllocatedCents != 2000 {
		t.Errorf("allocation %d/%d, want 1000/2000", lines[0].AllocatedCents, lines[1].AllocatedCents)
	}
	if lines[0].AllocatedCents+lines[1].AllocatedCents != 3000 {
		t.Errorf("allocation does not sum to order total")
	}
}

func TestListPendingRecomputesMatches(t *testing.T) {
	conn := &fakeConnector{msgs: []internal.RawMessage{saleMsg("<a@x>", "ORD-1001", "$12.99")}}
	c, db := newTestController(t, conn, testConfig())

	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	pending, err := c.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending[0].Matches[0]) != 0 {
		t.Fatalf("expected no candidates with empty inventory, got %+v", pending[0].Matches[0])
	}

	itemID, err := db.InsertInventoryItem(internal.InventoryItem{
		Name:           "Mew ex #151/165",
		Condition:      "Near Mint Holofoil",
		QuantityOnHand: 1,
	})
	if err != nil {
		t.Fatalf("InsertInventoryItem: %v", err)
	}

	pending, err = c.ListPending()
	if err != nil {
		t.Fatalf("ListPending after insert: %v", err)
	}
	candidates := pending[0].Matches[0]
	if len(candidates) == 0 {
		t.Fatal("expected a candidate after inventory insert")
	}
	if candidates[0].InventoryItemID != itemID || !candidates[0].IsExact {
		t.Errorf("candidate %+v, want exact match on item %d", candidates[0], itemID)
	}
}

func TestScanCoalescesDuringCooldown(t *testing.T) {
	conn := &fakeConnector{}
	cfg := testConfig()
	cfg.ScanCooldownSec = 3600
	c, _ := newTestController(t, conn, cfg)

	first, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Coalesced {
		t.Fatal("first scan should run")
	}

	second, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !second.Coalesced {
		t.Error("second scan inside the cooldown window should coalesce")
	}
}

func TestScanIsSingleFlight(t *testing.T) {
	conn := &fakeConnector{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c, _ := newTestController(t, conn, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := c.Scan(context.Background())
		done <- err
	}()

	<-conn.started

	report, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("concurrent scan: %v", err)
	}
	if !report.Coalesced {
		t.Error("scan triggered while another is in flight should coalesce")
	}

	close(conn.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("background scan: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background scan did not finish")
	}
}
