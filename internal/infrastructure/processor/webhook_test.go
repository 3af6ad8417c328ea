package processor

import (
	"testing"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test"

func sign(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func TestWebhookVerifier_MapsEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *entity.ProcessorEvent
	}{
		{
			name: "hold succeeded",
			body: `{"id":"evt_1","object":"event","type":"payment_intent.amount_capturable_updated","created":1700000000,
				"data":{"object":{"id":"pi_1","object":"payment_intent","status":"requires_capture","amount_capturable":1500,"currency":"usd"}}}`,
			want: &entity.ProcessorEvent{ID: "evt_1", Type: entity.EventHoldSucceeded, IntentID: "pi_1", Amount: 1500, Currency: "usd"},
		},
		{
			name: "hold failed",
			body: `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","created":1700000000,
				"data":{"object":{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"message":"card declined"}}}}`,
			want: &entity.ProcessorEvent{ID: "evt_2", Type: entity.EventHoldFailed, IntentID: "pi_1", FailureReason: "card declined"},
		},
		{
			name: "captured",
			body: `{"id":"evt_3","object":"event","type":"payment_intent.succeeded","created":1700000000,
				"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","amount_received":1500,"currency":"usd"}}}`,
			want: &entity.ProcessorEvent{ID: "evt_3", Type: entity.EventCaptureSucceeded, IntentID: "pi_1", Amount: 1500, Currency: "usd"},
		},
		{
			name: "refunded",
			body: `{"id":"evt_4","object":"event","type":"charge.refunded","created":1700000000,
				"data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_1","amount_refunded":700,"currency":"usd"}}}`,
			want: &entity.ProcessorEvent{ID: "evt_4", Type: entity.EventChargeRefunded, IntentID: "pi_1", Amount: 700, Currency: "usd"},
		},
		{
			name: "canceled",
			body: `{"id":"evt_5","object":"event","type":"payment_intent.canceled","created":1700000000,
				"data":{"object":{"id":"pi_1","object":"payment_intent","status":"canceled"}}}`,
			want: &entity.ProcessorEvent{ID: "evt_5", Type: entity.EventHoldReleased, IntentID: "pi_1"},
		},
	}
	v := NewWebhookVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, payload := sign(t, tt.body)
			got, err := v.Verify(payload, header)
			require.NoError(t, err)
			tt.want.OccurredAt = time.Unix(1700000000, 0).UTC()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhookVerifier_Dispute(t *testing.T) {
	header, payload := sign(t, `{"id":"evt_d","object":"event","type":"charge.dispute.created","created":1700000000,
		"data":{"object":{"id":"dp_1","object":"dispute","payment_intent":"pi_1","amount":1500,"currency":"usd","reason":"fraudulent",
		"evidence_details":{"due_by":1700600000}}}}`)

	got, err := NewWebhookVerifier(testSecret).Verify(payload, header)
	require.NoError(t, err)
	require.NotNil(t, got.Dispute)
	assert.Equal(t, entity.EventDisputeCreated, got.Type)
	assert.Equal(t, "pi_1", got.IntentID)
	assert.Equal(t, "dp_1", got.Dispute.ExternalID)
	assert.Equal(t, "fraudulent", got.Dispute.Reason)
	require.NotNil(t, got.Dispute.EvidenceDueBy)
	assert.Equal(t, time.Unix(1700600000, 0).UTC(), *got.Dispute.EvidenceDueBy)
}

func TestWebhookVerifier_IgnoresUnrelatedEvents(t *testing.T) {
	header, payload := sign(t, `{"id":"evt_x","object":"event","type":"customer.created","created":1700000000,
		"data":{"object":{"id":"cus_1","object":"customer"}}}`)

	got, err := NewWebhookVerifier(testSecret).Verify(payload, header)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWebhookVerifier_RejectsBadSignature(t *testing.T) {
	_, payload := sign(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	_, err := NewWebhookVerifier(testSecret).Verify(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	header, _ := sign(t, `{"id":"evt_1"}`)
	_, err = NewWebhookVerifier(testSecret).Verify(payload, header)
	assert.Error(t, err)
}
