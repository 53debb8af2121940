package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stroycontrol/defect-service/internal/auth"
	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository/memory"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

func TestLogin(t *testing.T) {
	store := memory.NewStore()
	hash, err := auth.HashPassword("s3cret!", bcrypt.MinCost)
	require.NoError(t, err)
	active := store.AddUser(domain.User{Email: "Bob@Example.com", PasswordHash: hash, Role: domain.UserRoleEngineer, IsActive: true})
	store.AddUser(domain.User{Email: "gone@example.com", PasswordHash: hash, Role: domain.UserRoleEngineer, IsActive: false})

	tokens := auth.NewTokenManager("test-secret", 15)
	svc := NewAuthService(AuthDependencies{UserRepo: store.Repositories().Users, TokenManager: tokens})

	user, token, exp, err := svc.Login(context.Background(), " bob@example.com ", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, active.ID, user.ID)
	assert.False(t, exp.IsZero())

	claims, err := tokens.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, active.ID, claims.UserID)
	assert.Equal(t, domain.UserRoleEngineer, claims.Role)

	for name, creds := range map[string][2]string{
		"wrong password": {"bob@example.com", "nope"},
		"unknown email":  {"ghost@example.com", "s3cret!"},
		"inactive":       {"gone@example.com", "s3cret!"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := svc.Login(context.Background(), creds[0], creds[1])
			require.Error(t, err)
			domainErr := apperrors.ToDomainError(err)
			assert.Equal(t, 401, domainErr.HTTPStatus)
			assert.Equal(t, "invalid credentials", domainErr.Message)
		})
	}
}
