package github

import "fmt"

// Credentials is the ordered token pool of a Client. The front token is the
// active one; rotation moves it to the back.
type Credentials struct {
	tokens []string
}

// NewCredentials creates a token pool. At least one token is required.
func NewCredentials(tokens []string) (*Credentials, error) {
	if len(tokens) == 0 {
		return nil, ErrConfiguration
	}
	for i, token := range tokens {
		if token == "" {
			return nil, fmt.Errorf("%w: token at index %d is empty", ErrConfiguration, i)
		}
	}

	owned := make([]string, len(tokens))
	copy(owned, tokens)
	return &Credentials{tokens: owned}, nil
}

// Active returns the token currently used for requests
func (c *Credentials) Active() string {
	return c.tokens[0]
}

// Len returns the number of tokens in the pool
func (c *Credentials) Len() int {
	return len(c.tokens)
}

// Tokens returns a copy of the pool in its current order
func (c *Credentials) Tokens() []string {
	out := make([]string, len(c.tokens))
	copy(out, c.tokens)
	return out
}

// Rotate moves the active token to the end of the pool
func (c *Credentials) Rotate() {
	if len(c.tokens) < 2 {
		return
	}
	first := c.tokens[0]
	copy(c.tokens, c.tokens[1:])
	c.tokens[len(c.tokens)-1] = first
}

// Replace swaps the whole pool for a single token
func (c *Credentials) Replace(token string) {
	c.tokens = []string{token}
}

// Authorization returns the Authorization header value for the active token
func (c *Credentials) Authorization() string {
	return bearer(c.Active())
}

func bearer(token string) string {
	return "Bearer " + token
}
