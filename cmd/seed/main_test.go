package main

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/kdex/internal/auth"
	"github.com/xtrntr/kdex/internal/config"
)

func TestRegisterUsers_SkipsTreasury(t *testing.T) {
	cfg := config.Default()
	users := auth.NewMemoryStore()
	svc := auth.NewAuthService(users, "test", time.Hour,
		cfg.ExchangeAddress(), cfg.FeeAccountAddress(), cfg.TreasuryAddress())
	ctx := context.Background()

	require.NoError(t, registerUsers(ctx, svc, "s3cret-seed"))
	// a second run finds the accounts in place
	require.NoError(t, registerUsers(ctx, svc, "s3cret-seed"))

	for name, addr := range map[string]common.Address{"user1": user1, "user2": user2} {
		u, err := users.GetUserByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, addr, u.Address)
	}
	_, err := users.GetUserByUsername(ctx, "deployer")
	assert.Error(t, err)

	_, err = svc.Login(ctx, "user1", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "user1", "s3cret-seed")
	assert.NoError(t, err)
}
