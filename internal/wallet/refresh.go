package wallet

import (
	"context"
	"errors"
	"fmt"
)

// TokenStore reads and replaces the token pair of one user's session.
type TokenStore interface {
	Tokens(ctx context.Context) (Tokens, error)
	SaveTokens(ctx context.Context, tokens Tokens) error
}

// Refresher obtains a new token pair.
type Refresher interface {
	RefreshTokens(ctx context.Context, current Tokens) (Tokens, error)
}

// Policy retries an authorized operation once after refreshing an expired
// access token. It guards against expiry races, not persistent failures.
type Policy struct {
	Refresher Refresher
	Store     TokenStore
}

// Operation is an authorized call made with the given access token.
type Operation[T any] func(ctx context.Context, accessToken string) (T, error)

// Authorized runs op with the stored access token. On ErrAuthentication it
// refreshes once, saves the new pair and runs op one more time; the second
// result is returned as is.
func Authorized[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var zero T
	tokens, err := p.Store.Tokens(ctx)
	if err != nil {
		return zero, fmt.Errorf("wallet: load tokens: %w", err)
	}
	if tokens.Empty() {
		return zero, ErrNotAuthenticated
	}

	res, err := op(ctx, tokens.AccessToken)
	if !errors.Is(err, ErrAuthentication) {
		return res, err
	}

	fresh, err := p.Refresher.RefreshTokens(ctx, tokens)
	if err != nil {
		return zero, err
	}
	if err := p.Store.SaveTokens(ctx, fresh); err != nil {
		return zero, fmt.Errorf("wallet: save tokens: %w", err)
	}
	return op(ctx, fresh.AccessToken)
}

// Do is Authorized for operations without a result.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, accessToken string) error) error {
	_, err := Authorized(ctx, p, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, op(ctx, token)
	})
	return err
}
