// Package natsrpc answers session verification requests from other
// services over NATS request/reply.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/karpithal/go-accounts"
	nats "github.com/nats-io/nats.go"
)

// Authenticator is the part of accounts.Manager the handler needs
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*accounts.Account, error)
}

// VerifyRequest is the request payload
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResponse is the reply payload
type VerifyResponse struct {
	OK        bool            `json:"ok"`
	AccountID string          `json:"account_id,omitempty"`
	Email     string          `json:"email,omitempty"`
	Role      accounts.Role   `json:"role,omitempty"`
	Status    accounts.Status `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeInvalidToken   = "invalid_token"
	ErrCodeInactive       = "account_inactive"
	ErrCodeInternal       = "internal_error"
)

// VerifyHandler validates access tokens on behalf of other services.
type VerifyHandler struct {
	auth      Authenticator
	timeout   time.Duration
	logger    accounts.Logger
	respondFn func(msg *nats.Msg, resp VerifyResponse)
}

// NewVerifyHandler builds a handler with a 5s per-request deadline
func NewVerifyHandler(auth Authenticator, logger accounts.Logger) *VerifyHandler {
	return &VerifyHandler{
		auth:      auth,
		timeout:   5 * time.Second,
		logger:    logger,
		respondFn: respond,
	}
}

// SetResponder replaces the reply function, used by tests
func (h *VerifyHandler) SetResponder(fn func(msg *nats.Msg, resp VerifyResponse)) {
	if fn != nil {
		h.respondFn = fn
	}
}

// Subscribe joins queue on subject so replicas share the load
func (h *VerifyHandler) Subscribe(conn *nats.Conn, subject, queue string) (*nats.Subscription, error) {
	if conn == nil {
		return nil, errors.New("nats connection is nil")
	}
	return conn.QueueSubscribe(subject, queue, h.Handle)
}

// Handle answers a single request
func (h *VerifyHandler) Handle(msg *nats.Msg) {
	var req VerifyRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Token == "" {
		h.respondFn(msg, VerifyResponse{Error: ErrCodeInvalidPayload})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	account, err := h.auth.Authenticate(ctx, req.Token)
	switch {
	case err == nil:
		h.respondFn(msg, VerifyResponse{
			OK:        true,
			AccountID: account.ID.String(),
			Email:     account.Email,
			Role:      account.Role,
			Status:    account.Status(),
		})
	case errors.Is(err, accounts.ErrAccountInactive):
		h.respondFn(msg, VerifyResponse{Error: ErrCodeInactive})
	case accounts.IsTokenError(err):
		h.respondFn(msg, VerifyResponse{Error: ErrCodeInvalidToken})
	default:
		if h.logger != nil {
			h.logger.Error("session verification failed", "error", err)
		}
		h.respondFn(msg, VerifyResponse{Error: ErrCodeInternal})
	}
}

func respond(msg *nats.Msg, resp VerifyResponse) {
	data, _ := json.Marshal(resp)
	_ = msg.Respond(data)
}
