package authstore

import (
	"context"
	"fmt"

	"github.com/brindlecode/smartgit/internal/gitproto"
)

// Authenticator wires Service and Store together into a gitproto.Authenticate
// function: the password field is checked for the PAT prefix first (JWT scope
// check, no database round trip), falling back to a bcrypt-verified password
// lookup in Store unless password auth has been disabled in favor of PATs
// only.
type Authenticator struct {
	svc                *Service
	store              *Store
	enablePasswordAuth bool
}

// NewAuthenticator constructs an Authenticator that accepts both PATs and
// plain passwords. Use NewAuthenticatorWithOptions to disable password auth.
func NewAuthenticator(svc *Service, store *Store) *Authenticator {
	return &Authenticator{svc: svc, store: store, enablePasswordAuth: true}
}

// NewAuthenticatorWithOptions constructs an Authenticator with password auth
// gated by enablePasswordAuth. When false, only PATs (the "pat_"-prefixed
// password value) are accepted; plain bcrypt password checks are rejected
// without a Store lookup.
func NewAuthenticatorWithOptions(svc *Service, store *Store, enablePasswordAuth bool) *Authenticator {
	return &Authenticator{svc: svc, store: store, enablePasswordAuth: enablePasswordAuth}
}

// Authenticate satisfies gitproto.Authenticate.
func (a *Authenticator) Authenticate(ctx context.Context, op gitproto.OperationType, repo, username, password string) error {
	if looksLikeToken(password) {
		claims, err := a.svc.ValidateToken(password)
		if err != nil {
			return err
		}
		if !claims.Scope.permits(op) {
			return ErrScopeInsufficient
		}
		return nil
	}

	if !a.enablePasswordAuth {
		return ErrInvalidCredentials
	}

	user, err := a.store.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := a.svc.CheckPassword(user.PasswordHash, password); err != nil {
		return err
	}
	return nil
}

// Func adapts Authenticator to the gitproto.Authenticate function type for
// direct assignment into gitproto.Options.
func (a *Authenticator) Func() gitproto.Authenticate {
	return func(ctx context.Context, op gitproto.OperationType, repo, username, password string) error {
		if err := a.Authenticate(ctx, op, repo, username, password); err != nil {
			return fmt.Errorf("authstore: %w", err)
		}
		return nil
	}
}
