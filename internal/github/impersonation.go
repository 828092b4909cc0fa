package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
)

// AllScopes is the scope set requested for impersonation tokens
var AllScopes = []string{"repo", "admin:org", "user", "site_admin"}

// Suspension reasons recorded around a temporary unsuspension
const (
	UnsuspendForImpersonation = "Temporary unsuspension for impersonation"
	ResuspendAfterTemporary   = "Resuspending after temporary suspension."
)

// ImpersonationToken mints a token for user and validates it with a rate
// limit check so identity problems such as suspension surface here.
func (c *Client) ImpersonationToken(ctx context.Context, user string) (string, error) {
	if c.impersonating != "" {
		return "", ErrInvalidImpersonation
	}

	resp, err := c.CreateImpersonationToken(ctx, user, AllScopes)
	if err != nil {
		return "", fmt.Errorf("create impersonation token for %s: %w", user, err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := resp.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fmt.Errorf("create impersonation token for %s: empty token in response", user)
	}

	url := c.resolve(RateLimitPath)
	check, err := c.send(ctx, http.MethodGet, url, payload.Token, &requestOptions{})
	if err != nil {
		return "", fmt.Errorf("validate impersonation token for %s: %w", user, err)
	}
	if err := classifyResponse(http.MethodGet, url, check); err != nil {
		return "", fmt.Errorf("validate impersonation token for %s: %w", user, err)
	}

	return payload.Token, nil
}

// ImpersonateUser runs fn with a client acting as user. A suspended user is
// unsuspended for the duration of fn and suspended again afterwards, even
// when fn fails or panics.
func (c *Client) ImpersonateUser(ctx context.Context, user string, fn func(*Client) error) error {
	return c.ImpersonateUserFor(ctx, user, UnsuspendForImpersonation, fn)
}

// ImpersonateUserFor is ImpersonateUser with the reason recorded if user has
// to be unsuspended.
func (c *Client) ImpersonateUserFor(ctx context.Context, user, reason string, fn func(*Client) error) error {
	token, err := c.ImpersonationToken(ctx, user)
	if err == nil {
		return fn(c.impersonatingClient(user, token))
	}
	if !errors.Is(err, ErrAccountSuspended) {
		return err
	}

	c.logger.Info("github: user suspended, unsuspending for impersonation", "user", user)

	return c.TemporarilyUnsuspendUser(ctx, user, reason, ResuspendAfterTemporary, func() error {
		token, err := c.ImpersonationToken(ctx, user)
		if err != nil {
			return err
		}
		return fn(c.impersonatingClient(user, token))
	})
}

// TemporarilyUnsuspendUser unsuspends user, runs fn and always suspends the
// user again. A failed resuspension is combined with fn's error.
func (c *Client) TemporarilyUnsuspendUser(ctx context.Context, user, unsuspendReason, suspendReason string, fn func() error) (err error) {
	if _, err := c.UnsuspendUser(ctx, user, unsuspendReason); err != nil {
		return fmt.Errorf("unsuspend %s: %w", user, err)
	}

	defer func() {
		// Resuspend even when ctx was cancelled during fn
		if _, suspendErr := c.SuspendUser(context.WithoutCancel(ctx), user, suspendReason); suspendErr != nil {
			c.logger.Error("github: failed to resuspend user",
				"user", user,
				"error", suspendErr)
			err = multierr.Append(err, fmt.Errorf("resuspend %s: %w", user, suspendErr))
		}
	}()

	return fn()
}

// impersonatingClient builds a fresh client acting as user. It shares no
// mutable state with c and keeps a private copy of c for re-minting.
func (c *Client) impersonatingClient(user, token string) *Client {
	impersonated := c.clone()
	impersonated.credentials.Replace(token)
	impersonated.impersonating = user
	impersonated.minter = c.clone()
	impersonated.logger = c.logger.With("impersonating", user)
	return impersonated
}
