package stripe

import (
	"fmt"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/stripe/stripe-go/v78/webhook"
)

// SignatureVerifier проверяет подпись сырого вебхук-события
type SignatureVerifier interface {
	// VerifyAndEnvelope проверяет подпись и возвращает конверт события.
	// domain.ErrInvalidSignature - подпись не сошлась или метка устарела,
	// domain.ErrMalformedPayload - тело не является событием провайдера.
	VerifyAndEnvelope(payload []byte, signatureHeader string) (domain.EventEnvelope, error)
}

// stripeVerifier реализация SignatureVerifier поверх webhook-подписей Stripe
type stripeVerifier struct {
	secret string
	log    *logger.Logger
}

// NewSignatureVerifier создает новый верификатор подписи
func NewSignatureVerifier(secret string, log *logger.Logger) SignatureVerifier {
	return &stripeVerifier{secret: secret, log: log}
}

// VerifyAndEnvelope проверяет HMAC-подпись и разбирает конверт события.
// Метка времени подписи старше webhook.DefaultTolerance (5 минут)
// отклоняется как защита от replay-атак. Версию API события не сверяем:
// подпись аккаунта с другой закрепленной версией так же валидна,
// а конверт (id, type) одинаков во всех версиях.
func (v *stripeVerifier) VerifyAndEnvelope(payload []byte, signatureHeader string) (domain.EventEnvelope, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		v.log.Warnw("Webhook signature verification failed", "error", err)
		return domain.EventEnvelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	if event.ID == "" || event.Type == "" {
		return domain.EventEnvelope{}, fmt.Errorf("%w: event without id or type", domain.ErrMalformedPayload)
	}

	return domain.EventEnvelope{
		ExternalID: event.ID,
		Type:       string(event.Type),
	}, nil
}
