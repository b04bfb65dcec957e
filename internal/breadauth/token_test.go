package breadauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenCellRefresh(t *testing.T) {
	calls := 0
	hook := func(ctx context.Context) (string, time.Time, error) {
		calls++
		return "token-v1", time.Now().Add(time.Hour), nil
	}
	cell := NewTokenCell(hook, time.Minute)

	require.Equal(t, "", cell.Get())
	require.NoError(t, cell.Refresh(context.Background()))
	require.Equal(t, "token-v1", cell.Get())
	require.Equal(t, 1, calls)
}

func TestTokenCellRefreshNoHook(t *testing.T) {
	cell := NewTokenCell(nil, time.Minute)
	err := cell.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshHook)
}

func TestDevIssuerIssueAndValidate(t *testing.T) {
	issuer := NewDevIssuer("test-secret", time.Hour)

	token, expiresAt, err := issuer.Issue("owner-1", "agent-1", []string{"dispatcher"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Second)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "owner-1", claims.OwnerID)
	require.Equal(t, "agent-1", claims.AgentID)
	require.Contains(t, claims.Roles, "dispatcher")
}

func TestDevIssuerValidateRejectsGarbage(t *testing.T) {
	issuer := NewDevIssuer("test-secret", time.Hour)
	_, err := issuer.Validate("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDevIssuerValidateRejectsWrongSecret(t *testing.T) {
	issuerA := NewDevIssuer("secret-a", time.Hour)
	issuerB := NewDevIssuer("secret-b", time.Hour)

	token, _, err := issuerA.Issue("owner-1", "agent-1", nil)
	require.NoError(t, err)

	_, err = issuerB.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
