package frontchat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// AuthClient covers login, logout, registration and password reset.
type AuthClient struct{ c *Client }

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user"`
}

// Login exchanges a username and password for a session. A failed attempt
// clears any stale persisted session.
func (a *AuthClient) Login(ctx context.Context, username, password string) (*Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, validationError("username and password are required")
	}

	data, err := a.c.do(ctx, request{
		method:    http.MethodPost,
		path:      pathToken,
		body:      map[string]string{"username": username, "password": password},
		anonymous: true,
	})
	if err != nil {
		if !errors.Is(err, ErrNetwork) {
			a.c.endSession(EndLogout)
		}
		return nil, err
	}

	resp, err := decodeJSON[loginResponse](data)
	if err != nil {
		return nil, err
	}
	if resp.Access == "" || resp.Refresh == "" || resp.User == nil {
		a.c.endSession(EndLogout)
		return nil, &APIError{Kind: KindServer, Message: "incomplete login response"}
	}

	sess := Session{User: *resp.User, AccessToken: resp.Access, RefreshToken: resp.Refresh}
	if err := a.c.session.Begin(sess); err != nil {
		return nil, err
	}
	a.c.log.Info().Str("username", sess.User.Username).Msg("logged in")
	return &sess, nil
}

// Logout ends the current session.
func (a *AuthClient) Logout() error {
	return a.c.session.End(EndLogout)
}

// RegisterOptions are the fields of the sign-up form.
type RegisterOptions struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. It does not log in.
func (a *AuthClient) Register(ctx context.Context, opts RegisterOptions) (*User, error) {
	if strings.TrimSpace(opts.Username) == "" || opts.Password == "" {
		return nil, validationError("username and password are required")
	}
	data, err := a.c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/api/register/",
		body:      opts,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	user := &User{Username: opts.Username, Email: opts.Email}
	if len(strings.TrimSpace(string(data))) > 0 {
		if u, err := decodeJSON[User](data); err == nil && u.Username != "" {
			user = u
		}
	}
	return user, nil
}

// ConfirmPasswordReset sets a new password using the uid and token from the
// reset e-mail.
func (a *AuthClient) ConfirmPasswordReset(ctx context.Context, uid, token, newPassword string) error {
	if uid == "" || token == "" {
		return validationError("invalid reset link")
	}
	if newPassword == "" {
		return validationError("new password is required")
	}
	_, err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/password-reset/confirm/",
		body: map[string]string{
			"uid":          uid,
			"token":        token,
			"new_password": newPassword,
		},
		anonymous: true,
	})
	return err
}

// GoogleAuthURL returns the URL the user must visit to sign in with Google.
func (a *AuthClient) GoogleAuthURL(ctx context.Context) (string, error) {
	data, err := a.c.do(ctx, request{method: http.MethodGet, path: "/auth/google/", anonymous: true})
	if err != nil {
		return "", err
	}
	resp, err := decodeJSON[struct {
		AuthorizationURL string `json:"authorization_url"`
	}](data)
	if err != nil {
		return "", err
	}
	if resp.AuthorizationURL == "" {
		return "", &APIError{Kind: KindServer, Message: "missing authorization_url"}
	}
	return resp.AuthorizationURL, nil
}

// LoginWithGoogle completes the Google flow with the callback code. The
// resulting session may lack a refresh credential, in which case the first
// 401 ends it.
func (a *AuthClient) LoginWithGoogle(ctx context.Context, code string) (*Session, error) {
	if code == "" {
		return nil, validationError("authorization code is required")
	}
	data, err := a.c.do(ctx, request{
		method:    http.MethodGet,
		path:      "/auth/google/callback/",
		query:     url.Values{"code": {code}},
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         *User  `json:"user"`
	}](data)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.User == nil {
		return nil, &APIError{Kind: KindServer, Message: "incomplete google login response"}
	}
	sess := Session{User: *resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := a.c.session.Begin(sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
