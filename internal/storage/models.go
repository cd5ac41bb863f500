package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitRecord is a rate accepted by the oracle.
type CommitRecord struct {
	ID           uuid.UUID
	Pair         string
	Rate         decimal.Decimal
	PreviousRate decimal.Decimal
	ChangePct    *decimal.Decimal
	Reason       string
	CommittedAt  time.Time
	CreatedAt    time.Time
}

// AlertRecord captures an emitted notification for auditing.
type AlertRecord struct {
	ID        int64
	Pair      string
	Kind      string
	Message   string
	Channels  []string
	CreatedAt time.Time
}
