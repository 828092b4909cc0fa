package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/lei/ghe-policy-check/pkg/logger"
)

const signatureAlgorithm = "sha1"

// Dispatcher verifies deliveries and routes them to registered handlers. It
// never writes HTTP responses; callers map its errors to status codes.
type Dispatcher struct {
	secret   []byte
	registry *Registry
	logger   *logger.Logger
}

// NewDispatcher creates a dispatcher verifying signatures with secret
func NewDispatcher(secret string, registry *Registry, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		secret:   []byte(secret),
		registry: registry,
		logger:   log,
	}
}

// Registry returns the dispatcher's handler registry
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// SecureRequest checks that signature is a valid sha1 HMAC of body
func (d *Dispatcher) SecureRequest(signature string, body []byte) error {
	if signature == "" {
		return ErrInvalidSignature
	}

	algorithm, digest, ok := strings.Cut(signature, "=")
	if !ok {
		return ErrInvalidSignature
	}
	if algorithm != signatureAlgorithm {
		return ErrOperationNotSupported
	}

	expected := hmacSHA1(d.secret, body)
	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return ErrInvalidSignature
	}
	return nil
}

// Dispatch verifies req and invokes the handler registered for its event and action
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (any, error) {
	if err := d.SecureRequest(req.Signature, req.Body); err != nil {
		d.logger.Warn("webhook: rejected delivery",
			"event", req.Event,
			"delivery_id", req.DeliveryID,
			"error", err)
		return nil, err
	}

	handler, err := d.registry.Lookup(req.Event, req.Action)
	if err != nil {
		d.logger.Debug("webhook: no handler",
			"event", req.Event,
			"action", req.Action)
		return nil, err
	}

	d.logger.Info("webhook: handling event",
		"event", req.Event,
		"action", req.Action,
		"delivery_id", req.DeliveryID)

	return handler(ctx, req)
}

// Sign returns the X-Hub-Signature value for body
func Sign(secret string, body []byte) string {
	return signatureAlgorithm + "=" + hmacSHA1([]byte(secret), body)
}

func hmacSHA1(secret, body []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
