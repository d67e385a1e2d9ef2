package journal

import (
	"context"
	"log/slog"

	"github.com/roach88/djsync/internal/remote"
)

// Login authenticates against the server, stores the token and resumes a
// sync paused on an authentication failure.
func (s *Service) Login(ctx context.Context, creds remote.Credentials) (remote.Session, error) {
	if !s.online() {
		return remote.Session{}, ErrOffline
	}
	sess, err := s.remote.Login(ctx, creds)
	if err != nil {
		return remote.Session{}, err
	}
	return sess, s.startSession(ctx, sess)
}

// Register creates an account and logs into it.
func (s *Service) Register(ctx context.Context, reg remote.Registration) (remote.Session, error) {
	if !s.online() {
		return remote.Session{}, ErrOffline
	}
	sess, err := s.remote.Register(ctx, reg)
	if err != nil {
		return remote.Session{}, err
	}
	return sess, s.startSession(ctx, sess)
}

// Logout forgets the stored token. Queued mutations are kept and go out
// after the next login.
func (s *Service) Logout(ctx context.Context) error {
	s.remote.SetToken("")
	if err := s.store.SetToken(ctx, ""); err != nil {
		return storageErr("clear token", err)
	}
	slog.Info("logged out")
	return nil
}

// RestoreSession installs the token saved by a previous login, if any.
func (s *Service) RestoreSession(ctx context.Context) (bool, error) {
	token, err := s.store.Token(ctx)
	if err != nil {
		return false, storageErr("read token", err)
	}
	if token == "" {
		return false, nil
	}
	s.remote.SetToken(token)
	return true, nil
}

func (s *Service) startSession(ctx context.Context, sess remote.Session) error {
	s.remote.SetToken(sess.Token)
	if err := s.store.SetToken(ctx, sess.Token); err != nil {
		return storageErr("save token", err)
	}
	slog.Info("logged in")
	s.sync.ResumeAfterAuth()
	return nil
}
