package remote

import (
	"context"
	"encoding/json"
	"net/http"
)

// Credentials are sent to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is sent to the register endpoint.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the login response. User is kept opaque.
type Session struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
}

// Login exchanges credentials for a session and installs its token.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	return c.authenticate(ctx, "login", "/auth/login", creds)
}

// Register creates an account and installs the returned token.
func (c *Client) Register(ctx context.Context, reg Registration) (Session, error) {
	return c.authenticate(ctx, "register", "/auth/register", reg)
}

func (c *Client) authenticate(ctx context.Context, op, path string, body any) (Session, error) {
	req, err := jsonRequest(op, http.MethodPost, path, body)
	if err != nil {
		return Session{}, err
	}
	req.public = true

	var sess Session
	if err := c.do(ctx, req, &sess); err != nil {
		return Session{}, err
	}
	if sess.Token == "" {
		return Session{}, &Error{Kind: KindAuth, Op: op, Message: "response missing token"}
	}
	c.SetToken(sess.Token)
	return sess, nil
}
