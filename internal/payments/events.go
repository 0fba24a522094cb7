package payments

import (
	"time"

	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/payloads"
)

// DomainEvent builds the outbox row for a payment state change.
func DomainEvent(payment *models.Payment, eventType enums.OutboxEventType, actor *outbox.ActorRef, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		OccurredAt:    at,
		Data: payloads.PaymentEvent{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			OrderCode:     payment.OrderCode,
			Method:        payment.Method,
			Purpose:       payment.Purpose,
			Status:        payment.Status,
			Amount:        payment.Amount,
			FailureReason: payment.FailureReason,
		},
	}
}
