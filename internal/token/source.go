package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxhq/vox/internal/session"
)

// Source issues tokens for one session path and refreshes them ahead of
// expiry.
type Source struct {
	issuer    *Issuer
	sessionID string

	// RefreshLead is how long before expiry a refresh is attempted.
	RefreshLead time.Duration
	// RetryDelay spaces refresh attempts after a failure.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// NewSource returns a Source with a newly generated session path.
func NewSource(issuer *Issuer) *Source {
	return &Source{
		issuer:      issuer,
		sessionID:   NewSessionPath(),
		RefreshLead: time.Minute,
		RetryDelay:  10 * time.Second,
		Logger:      slog.Default(),
	}
}

// SessionID is the session path every token from this source is bound to.
func (s *Source) SessionID() string { return s.sessionID }

// Token issues one token.
func (s *Source) Token(ctx context.Context) (string, error) {
	return s.issuer.Issue(ctx, s.sessionID)
}

// Run issues a token, hands it to onToken, and keeps refreshing until ctx
// is done. Only the first issue failure is returned; refresh failures are
// logged and retried. Tokens without an expiry, or expiring within
// RefreshLead of being issued, are never refreshed.
func (s *Source) Run(ctx context.Context, onToken func(token string)) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	onToken(tok)

	for {
		exp, ok := session.TokenExpiry(tok)
		if !ok {
			s.Logger.Debug("token has no expiry, refresh disabled")
			<-ctx.Done()
			return nil
		}
		wait := time.Until(exp) - s.RefreshLead
		if wait <= 0 {
			s.Logger.Warn("token expires inside the refresh lead, refresh disabled", "expires_at", exp)
			<-ctx.Done()
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}

			next, err := s.Token(ctx)
			if err == nil {
				tok = next
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.Warn("token refresh failed", "error", err, "retry_in", s.RetryDelay)
			wait = s.RetryDelay
		}

		s.Logger.Info("token refreshed", "session_id", s.sessionID)
		onToken(tok)
	}
}
