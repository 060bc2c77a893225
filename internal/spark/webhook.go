package spark

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// WebhookServer receives message webhooks from the Webex cloud, loads the
// full message behind each delivery and republishes it on Messages. The
// bot's own messages are dropped so the bot never talks to itself.
type WebhookServer struct {
	client *Client

	mux  *http.ServeMux
	srv  *http.Server
	addr string

	messages chan Message
}

// WebhookConfig holds configuration for the webhook receiver.
type WebhookConfig struct {
	// Addr is the local address to bind.
	Addr string

	// BufferSize is the capacity of the outbound message channel.
	BufferSize int
}

// NewWebhookServer builds the receiver. Start must be called for messages to
// flow.
func NewWebhookServer(cfg WebhookConfig, client *Client) *WebhookServer {
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 16
	}

	s := &WebhookServer{
		client:   client,
		mux:      http.NewServeMux(),
		addr:     cfg.Addr,
		messages: make(chan Message, bufferSize),
	}

	s.mux.HandleFunc("/", s.handleWebhook)

	return s
}

// Messages returns the channel inbound chat messages are published on.
func (s *WebhookServer) Messages() <-chan Message {
	return s.messages
}

// Start runs the HTTP server until it is shut down.
func (s *WebhookServer) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Webhook receiver listening on %s", s.addr)

	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes the message channel.
func (s *WebhookServer) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	close(s.messages)

	return err
}

// handleWebhook validates, decodes and republishes one webhook delivery.
func (s *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(
			w, "method not allowed", http.StatusMethodNotAllowed,
		)
		return
	}

	var envelope WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		log.Warnf("Rejecting undecodable webhook delivery: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Only message creations are interesting.
	if envelope.Resource != "messages" || envelope.Event != "created" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Skip the bot's own messages.
	if envelope.Data.PersonID == s.client.PersonID() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Webhook deliveries carry no message text; load the full message.
	msg, err := s.client.GetMessage(r.Context(), envelope.Data.ID)
	if err != nil {
		log.Warnf("Unable to load message %s: %v", envelope.Data.ID,
			err)
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}

	log.Debugf("Received message from %s", msg.PersonEmail)

	select {
	case s.messages <- msg:
	case <-r.Context().Done():
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
