package services

import "github.com/tradesafi/backend/internal/models"

// SystemActorID is the caller identity the inspection scheduler uses when it
// auto-completes a transaction at the deadline.
const SystemActorID = "system"

// transitions is the directed status graph. The only cycle-free escape hatch
// is disputed, reachable from every active status between buyer_joined and
// inspection_period inclusive.
var transitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.StatusCreated:           {models.StatusBuyerJoined},
	models.StatusBuyerJoined:       {models.StatusEscrowFunded, models.StatusDisputed},
	models.StatusEscrowFunded:      {models.StatusItemSent, models.StatusInspectionPeriod, models.StatusDisputed},
	models.StatusItemSent:          {models.StatusDeliveryConfirmed, models.StatusInspectionPeriod, models.StatusDisputed},
	models.StatusDeliveryConfirmed: {models.StatusInspectionPeriod, models.StatusDisputed},
	models.StatusInspectionPeriod:  {models.StatusCompleted, models.StatusDisputed},
	models.StatusDisputed:          {models.StatusCompleted, models.StatusRefunded},
}

// TransitionAllowed reports whether from -> to is a legal edge.
func TransitionAllowed(from, to models.TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Disputable reports whether a dispute may be opened from the given status.
func Disputable(s models.TransactionStatus) bool {
	switch s {
	case models.StatusBuyerJoined, models.StatusEscrowFunded, models.StatusItemSent,
		models.StatusDeliveryConfirmed, models.StatusInspectionPeriod:
		return true
	}
	return false
}
