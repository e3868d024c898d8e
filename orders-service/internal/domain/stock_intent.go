package domain

import "time"

type IntentKind string

const (
	IntentReserve IntentKind = "RESERVE"
	IntentRestore IntentKind = "RESTORE"
)

type IntentStatus string

const (
	IntentPending IntentStatus = "PENDING"
	IntentDone    IntentStatus = "DONE"
	IntentFailed  IntentStatus = "FAILED"
)

// StockIntent records a stock call owed to the inventory service. It is
// written with the order change that requires it and replayed until applied.
type StockIntent struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Kind      IntentKind
	Status    IntentStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewIntents(orderID int64, kind IntentKind, items []OrderItem) []*StockIntent {
	intents := make([]*StockIntent, 0, len(items))
	for _, item := range items {
		intents = append(intents, &StockIntent{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Kind:      kind,
			Status:    IntentPending,
		})
	}
	return intents
}
