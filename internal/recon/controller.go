package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tcgledger/internal"
	"tcgledger/internal/config"
	"tcgledger/internal/grouper"
	"tcgledger/internal/mail"
	"tcgledger/internal/matcher"
	"tcgledger/internal/parser"
	"tcgledger/internal/storage"
)

type ScanReport struct {
	Fetched        int
	Parsed         int
	Unrecognized   int
	AlreadyHandled int
	NewPending     int

	// Coalesced means another scan was in flight or the cooldown held.
	Coalesced bool
}

type ConfirmResult struct {
	Records  []internal.ConfirmedSaleRecord
	Warnings []storage.StockWarning
}

// Controller drives the scan/confirm/dismiss cycle. Scans are single-flight.
type Controller struct {
	db   *storage.DB
	conn mail.Connector
	cfg  config.Config
	cool *cooldown
	now  func() time.Time

	mu       sync.Mutex
	scanning bool
}

func NewController(db *storage.DB, conn mail.Connector, cfg config.Config) *Controller {
	return &Controller{
		db:   db,
		conn: conn,
		cfg:  cfg,
		cool: newCooldown(time.Duration(cfg.ScanCooldownSec) * time.Second),
		now:  time.Now,
	}
}

func (c *Controller) filter() mail.Filter {
	return mail.Filter{
		Mailbox:         c.cfg.MailLabel,
		SenderPatterns:  c.cfg.SenderPatterns,
		SubjectPatterns: c.cfg.SubjectPatterns,
		LookbackDays:    c.cfg.LookbackDays,
		UnreadOnly:      c.cfg.UnreadOnly,
		MarkSeen:        c.cfg.MarkSeen,
		Max:             c.cfg.FetchMax,
	}
}

func (c *Controller) Scan(ctx context.Context) (ScanReport, error) {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return ScanReport{Coalesced: true}, nil
	}
	if !c.cool.Allow() {
		c.mu.Unlock()
		return ScanReport{Coalesced: true}, nil
	}
	c.scanning = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()

	report := ScanReport{}

	fetchCtx := ctx
	if c.cfg.FetchTimeoutMs > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.FetchTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	messages, err := mail.FetchWithRetry(fetchCtx, c.conn, c.filter(),
		c.cfg.RetryAttempts, time.Duration(c.cfg.RetryBackoffMs)*time.Millisecond)
	if err != nil {
		return report, fmt.Errorf("fetch: %w", err)
	}
	report.Fetched = len(messages)

	var parsed []internal.ParsedNotification
	for _, msg := range messages {
		notif, err := parser.Parse(msg, c.cfg.DefaultCurrency)
		if err != nil {
			fmt.Printf("  ! parse %s: %v\n", msg.MessageID, err)
			report.Unrecognized++
			c.recordMessage(msg, internal.OutcomeUnrecognized)
			continue
		}
		if notif.Unrecognized() {
			report.Unrecognized++
			c.recordMessage(msg, internal.OutcomeUnrecognized)
			continue
		}
		report.Parsed++
		c.recordMessage(msg, notif.LayoutID)
		parsed = append(parsed, notif)
	}

	detectedAt := c.now().UTC().Format(time.RFC3339)
	for _, sale := range grouper.Group(parsed, detectedAt) {
		handled, err := c.db.HasOrder(sale.OrderID)
		if err != nil {
			return report, fmt.Errorf("ledger check %s: %w", sale.OrderID, err)
		}
		if handled {
			report.AlreadyHandled++
			continue
		}
		_, created, err := c.db.InsertPendingSale(sale)
		if err != nil {
			return report, fmt.Errorf("queue %s: %w", sale.OrderID, err)
		}
		if created {
			report.NewPending++
		} else {
			report.AlreadyHandled++
		}
	}

	if err := c.db.SetMetadata("scan.lastRun", detectedAt); err != nil {
		return report, err
	}

	fmt.Printf("Scan: %d fetched, %d parsed, %d unrecognized, %d already handled, %d new pending\n",
		report.Fetched, report.Parsed, report.Unrecognized, report.AlreadyHandled, report.NewPending)
	return report, nil
}

func (c *Controller) recordMessage(msg internal.RawMessage, outcome string) {
	if err := c.db.UpsertMessage(msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, outcome); err != nil {
		fmt.Printf("  ! record message %s: %v\n", msg.MessageID, err)
	}
}

// ListPending recomputes match candidates against the current inventory.
func (c *Controller) ListPending() ([]internal.PendingSaleEntry, error) {
	entries, err := c.db.ListPendingSales()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	items, err := c.db.ListInventory()
	if err != nil {
		return nil, err
	}
	m := matcher.New(c.cfg.MatchFloorThreshold, c.cfg.MatchTopK, items)

	for i := range entries {
		matches := make([][]internal.MatchCandidate, len(entries[i].Sale.LineItems))
		for j, line := range entries[i].Sale.LineItems {
			matches[j] = m.Match(line.ProductName, line.Condition)
		}
		entries[i].Matches = matches
	}
	return entries, nil
}

func (c *Controller) GetPending(id int64) (*internal.PendingSaleEntry, error) {
	entry, err := c.db.GetPendingSale(id)
	if err != nil || entry == nil {
		return entry, err
	}

	items, err := c.db.ListInventory()
	if err != nil {
		return nil, err
	}
	m := matcher.New(c.cfg.MatchFloorThreshold, c.cfg.MatchTopK, items)

	matches := make([][]internal.MatchCandidate, len(entry.Sale.LineItems))
	for j, line := range entry.Sale.LineItems {
		matches[j] = m.Match(line.ProductName, line.Condition)
	}
	entry.Matches = matches
	return entry, nil
}

func (c *Controller) Confirm(pendingID int64, selections []storage.ConfirmSelection) (ConfirmResult, error) {
	records, warnings, err := c.db.ConfirmPendingSale(pendingID, selections)
	if err != nil {
		return ConfirmResult{}, err
	}
	for _, w := range warnings {
		fmt.Printf("  ! stock for %q went below zero (had %d, sold %d); clamped at 0\n",
			w.ItemName, w.OnHand, w.Requested)
	}
	return ConfirmResult{Records: records, Warnings: warnings}, nil
}

func (c *Controller) Dismiss(pendingID int64) error {
	return c.db.DismissPendingSale(pendingID)
}

func (c *Controller) DismissAll() (int, error) {
	return c.db.DismissAllPending()
}
