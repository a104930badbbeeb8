package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Reference string          `json:"reference"`
	AccountID string          `json:"account_id,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Status    string          `json:"status"`
	Details   any             `json:"details,omitempty"`
}

// Logger emits one structured line per ledger event. Every balance mutation,
// rejection and EMI state change goes through here so the trail can be
// replayed against the ledger.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMutation(reference, accountID string, amount decimal.Decimal, txType string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "LEDGER_MUTATION",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"type": txType},
	})
}

func (a *Logger) LogTransfer(reference, fromAccount, toAccount string, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		Reference: reference,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (a *Logger) LogError(reference, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(reference, accountID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
