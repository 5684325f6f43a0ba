package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/telephony"
)

const maxWebhookBody = 1 << 20

// VoiceWebhook receives call lifecycle events from the voice provider.
// The signature covers the raw body, so it is read before decoding.
func (h *Handler) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	header := r.Header.Get(telephony.SignatureHeader)
	if header == "" {
		header = r.Header.Get(telephony.ProviderSignatureHeader)
	}
	if h.svc.Verifier != nil {
		if err := h.svc.Verifier.Verify(header, body); err != nil {
			slog.Warn("voice webhook rejected", "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": err.Error(),
			})
			return
		}
	}

	ev, err := telephony.ParseEvent(body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Reconciler.Handle(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, err)
			return
		}
		slog.Error("voice webhook failed",
			"event_type", ev.Type,
			"conversation_id", ev.Data.ConversationID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to process event",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}
