package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// WebhookVerifier проверяет подпись Stripe-Signature и нормализует событие Stripe
// в ProcessorEvent. Неинтересные системе события возвращаются как nil.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

func (v *WebhookVerifier) Verify(payload []byte, signature string) (*entity.ProcessorEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe webhook: %w", err)
	}
	return normalize(ev)
}

func normalize(ev stripe.Event) (*entity.ProcessorEvent, error) {
	out := &entity.ProcessorEvent{ID: ev.ID, OccurredAt: time.Unix(ev.Created, 0).UTC()}
	if ev.Data == nil {
		return nil, nil
	}

	switch string(ev.Type) {
	case "payment_intent.amount_capturable_updated", "payment_intent.payment_failed",
		"payment_intent.succeeded", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe webhook: payment intent: %w", err)
		}
		out.IntentID = pi.ID
		out.Currency = string(pi.Currency)
		switch string(ev.Type) {
		case "payment_intent.amount_capturable_updated":
			if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
				return nil, nil
			}
			out.Type, out.Amount = entity.EventHoldSucceeded, pi.AmountCapturable
		case "payment_intent.payment_failed":
			out.Type = entity.EventHoldFailed
			if pi.LastPaymentError != nil {
				out.FailureReason = pi.LastPaymentError.Msg
			}
		case "payment_intent.succeeded":
			out.Type, out.Amount = entity.EventCaptureSucceeded, pi.AmountReceived
		default:
			out.Type = entity.EventHoldReleased
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("stripe webhook: charge: %w", err)
		}
		if ch.PaymentIntent == nil {
			return nil, nil
		}
		out.Type = entity.EventChargeRefunded
		out.IntentID = ch.PaymentIntent.ID
		out.Amount = ch.AmountRefunded
		out.Currency = string(ch.Currency)

	case "charge.dispute.created":
		var d stripe.Dispute
		if err := json.Unmarshal(ev.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("stripe webhook: dispute: %w", err)
		}
		if d.PaymentIntent == nil {
			return nil, nil
		}
		out.Type = entity.EventDisputeCreated
		out.IntentID = d.PaymentIntent.ID
		out.Amount = d.Amount
		out.Currency = string(d.Currency)
		info := &entity.DisputeInfo{ExternalID: d.ID, Reason: string(d.Reason)}
		if d.EvidenceDetails != nil && d.EvidenceDetails.DueBy > 0 {
			due := time.Unix(d.EvidenceDetails.DueBy, 0).UTC()
			info.EvidenceDueBy = &due
		}
		out.Dispute = info

	default:
		return nil, nil
	}
	return out, nil
}
