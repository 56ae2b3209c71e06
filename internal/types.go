package internal

const OutcomeUnrecognized = "unrecognized"

type RawMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type ParsedLineItem struct {
	OrderID     string `json:"orderId,omitempty"`
	ProductName string `json:"productName"`
	CardNumber  string `json:"cardNumber,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
}

// LayoutID is empty when no layout matched.
type ParsedNotification struct {
	MessageID       string
	LayoutID        string
	OrderID         string
	OrderTotalCents int64
	OrderDate       string
	Currency        string
	Items           []ParsedLineItem
}

func (n ParsedNotification) Unrecognized() bool {
	return n.LayoutID == ""
}

type SaleLineItem struct {
	ParsedLineItem
	AllocatedCents int64 `json:"allocatedCents"`
}

// AllocatedCents across LineItems always sums to OrderTotalCents.
type Sale struct {
	OrderID         string         `json:"orderId"`
	Synthetic       bool           `json:"synthetic,omitempty"`
	OrderTotalCents int64          `json:"orderTotalCents"`
	Currency        string         `json:"currency"`
	OrderDate       string         `json:"orderDate,omitempty"`
	DetectedAt      string         `json:"detectedAt"`
	LineItems       []SaleLineItem `json:"lineItems"`
}

type MatchCandidate struct {
	InventoryItemID int64   `json:"inventoryItemId"`
	Name            string  `json:"name"`
	Condition       string  `json:"condition,omitempty"`
	Score           float64 `json:"score"`
	IsExact         bool    `json:"isExact"`
}

type InventoryItem struct {
	ID             int64
	Name           string
	Condition      string
	QuantityOnHand int
	CostBasisCents int64
	AddedAt        string
}

// Matches holds one candidate list per line item; it is never persisted.
type PendingSaleEntry struct {
	ID      int64
	Sale    Sale
	Matches [][]MatchCandidate
	Status  string
}

const StatusPending = "pending"

type ConfirmedSaleRecord struct {
	ID              int64
	OrderID         string
	InventoryItemID int64
	ItemName        string
	Quantity        int
	SalePriceCents  int64
	CostBasisCents  int64
	ProfitCents     int64
	ConfirmedAt     string
}

const (
	ResolutionConfirmed = "confirmed"
	ResolutionDismissed = "dismissed"
)
