package stripe

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(os.Stderr)
	return log
}

// signPayload формирует заголовок Stripe-Signature для тестового тела
func signPayload(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", at.Unix(), sig)
}

func TestVerifyAndEnvelopeAcceptsValidSignature(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())
	payload := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{}}}`)

	envelope, err := verifier.VerifyAndEnvelope(payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, "evt_123", envelope.ExternalID)
	assert.Equal(t, "invoice.paid", envelope.Type)
}

func TestVerifyAndEnvelopeAcceptsForeignAPIVersion(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())

	// аккаунт закреплен на другой версии API; подпись при этом валидна
	payload := []byte(`{"id":"evt_124","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{}}}`)

	envelope, err := verifier.VerifyAndEnvelope(payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, "evt_124", envelope.ExternalID)
}

func TestVerifyAndEnvelopeRejectsWrongSecret(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())
	payload := []byte(`{"id":"evt_123","type":"invoice.paid"}`)

	_, err := verifier.VerifyAndEnvelope(payload, signPayload(payload, "whsec_other", time.Now()))

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyAndEnvelopeRejectsTamperedPayload(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())
	payload := []byte(`{"id":"evt_123","type":"invoice.paid"}`)
	header := signPayload(payload, testWebhookSecret, time.Now())

	tampered := []byte(`{"id":"evt_123","type":"customer.subscription.deleted"}`)
	_, err := verifier.VerifyAndEnvelope(tampered, header)

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyAndEnvelopeRejectsStaleTimestamp(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())
	payload := []byte(`{"id":"evt_123","type":"invoice.paid"}`)

	// метка старше допустимых пяти минут
	stale := time.Now().Add(-10 * time.Minute)
	_, err := verifier.VerifyAndEnvelope(payload, signPayload(payload, testWebhookSecret, stale))

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyAndEnvelopeRejectsMissingHeader(t *testing.T) {
	verifier := NewSignatureVerifier(testWebhookSecret, testLogger())

	_, err := verifier.VerifyAndEnvelope([]byte(`{}`), "")

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
