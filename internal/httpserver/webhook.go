package httpserver

import (
	"net/http"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

const maxWebhookBody = 25 << 20

type webhookHandler struct {
	dispatcher Webhooks
	secret     []byte
	logger     *zap.Logger
}

// handleGitHub verifies X-Hub-Signature-256 before anything in the payload is trusted.
func (h *webhookHandler) handleGitHub(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Warn("webhook signature rejected",
			zap.String("delivery_id", github.DeliveryID(r)),
			zap.Error(err),
		)
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature verification failed")
		return
	}

	event := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)

	res, err := h.dispatcher.Dispatch(r.Context(), event, deliveryID, payload)
	if err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event", event),
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "WEBHOOK_FAILED", "webhook processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event":   res.Event,
		"action":  res.Action,
		"outcome": string(res.Outcome),
	})
}
