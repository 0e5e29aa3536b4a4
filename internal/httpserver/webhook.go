package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/convo"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
)

// InboundProcessor receives normalized inbound messages from the webhook
// channel.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, in convo.Inbound) error
}

// WebhookHandler accepts inbound customer messages over HTTP, for channels
// that push instead of maintaining a socket.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor InboundProcessor
}

// NewWebhookHandler creates the inbound webhook handler. Requests must carry
// the shared secret in the X-Webhook-Secret header.
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, secret string, processor InboundProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "inbound_webhook"),
		metrics:   metricRegistry,
		secret:    secret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("webhook_auth").Inc()
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		RestaurantID  string `json:"restaurant_id"`
		CustomerPhone string `json:"customer_phone"`
		MessageText   string `json:"message_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.RestaurantID == "" || req.CustomerPhone == "" || strings.TrimSpace(req.MessageText) == "" {
		http.Error(w, "restaurant_id, customer_phone and message_text are required", http.StatusBadRequest)
		return
	}

	in := convo.Inbound{
		RestaurantID:  req.RestaurantID,
		CustomerPhone: req.CustomerPhone,
		Text:          req.MessageText,
		Channel:       "webhook",
	}

	// Processing happens off the request path; the sender only needs an ack.
	if h.processor != nil {
		go func() {
			if err := h.processor.HandleInbound(context.Background(), in); err != nil {
				h.logger.Error("failed processing webhook message", "phone", in.CustomerPhone, "error", err)
				if h.metrics != nil {
					h.metrics.Errors.WithLabelValues("webhook_process").Inc()
				}
			}
		}()
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Webhook-Secret"))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}
