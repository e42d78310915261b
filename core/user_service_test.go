package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newUserServiceFixture() (*UserService, *memStore, *BcryptHasher) {
	store := newMemStore()
	hasher := NewBcryptHasher(bcrypt.MinCost)
	return NewUserService(store, store, hasher), store, hasher
}

func TestUserServiceCreate(t *testing.T) {
	svc, _, hasher := newUserServiceFixture()
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateUserInput{Username: "alice", Password: "wonder1and"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, []string{RoleUser}, u.Roles, "ROLE_USER is the default")
	assert.True(t, hasher.Verify("wonder1and", u.PasswordHash))

	admin, err := svc.Create(ctx, CreateUserInput{Username: "root_2", Password: "toor1234", RoleIDs: []int64{2, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser, RoleAdmin}, admin.Roles)

	_, err = svc.Create(ctx, CreateUserInput{Username: "alice", Password: "wonder1and"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = svc.Create(ctx, CreateUserInput{Username: "mallory", Password: "abc12345", RoleIDs: []int64{1, 77}})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestUserServiceValidation(t *testing.T) {
	svc, _, _ := newUserServiceFixture()
	ctx := context.Background()

	cases := []CreateUserInput{
		{Username: "ab", Password: "abc12345"},
		{Username: strings.Repeat("a", 51), Password: "abc12345"},
		{Username: "has space", Password: "abc12345"},
		{Username: "dash-ed", Password: "abc12345"},
		{Username: "valid", Password: "a1"},
		{Username: "valid", Password: "lettersonly"},
		{Username: "valid", Password: "12345678"},
		{Username: "valid", Password: strings.Repeat("a1", 51)},
		{Username: " alice ", Password: "abc12345"},
		{Username: "valid", Password: "abc12345", RoleIDs: []int64{1, 0}},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, in)
		require.Error(t, err, "%+v", in)
		assert.Equal(t, KindValidation, classifyError(err).Kind, "%+v", in)
	}
}

func TestUserServiceUpdate(t *testing.T) {
	svc, store, hasher := newUserServiceFixture()
	ctx := context.Background()
	alice, err := svc.Create(ctx, CreateUserInput{Username: "alice", Password: "wonder1and", RoleIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserInput{Username: "bob", Password: "builder1"})
	require.NoError(t, err)

	u, err := svc.Update(ctx, alice.ID, UpdateUserInput{Username: "alice2"})
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	assert.Equal(t, []string{RoleUser, RoleAdmin}, u.Roles, "nil roleIds keeps roles")
	assert.True(t, hasher.Verify("wonder1and", u.PasswordHash), "empty password keeps digest")

	u, err = svc.Update(ctx, alice.ID, UpdateUserInput{Username: "alice2", Password: "newpass22", RoleIDs: []int64{1}})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser}, u.Roles)
	assert.True(t, hasher.Verify("newpass22", u.PasswordHash))

	_, err = svc.Update(ctx, alice.ID, UpdateUserInput{Username: "bob"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	_, err = svc.Update(ctx, 404, UpdateUserInput{Username: "ghost"})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.Update(ctx, alice.ID, UpdateUserInput{Username: "alice2", Password: "short"})
	assert.Equal(t, KindValidation, classifyError(err).Kind)
	_, err = svc.Update(ctx, alice.ID, UpdateUserInput{Username: "alice2", RoleIDs: []int64{5}})
	assert.ErrorIs(t, err, ErrUnknownRole)

	require.NoError(t, svc.Delete(ctx, alice.ID))
	assert.ErrorIs(t, svc.Delete(ctx, alice.ID), ErrUserNotFound)
	_, err = store.FindCredential(ctx, "alice2")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestDetailsService(t *testing.T) {
	store := newMemStore()
	svc := NewDetailsService(store, store)
	ctx := context.Background()
	u, err := store.Create(ctx, "bob", "digest", []int64{1})
	require.NoError(t, err)

	_, err = svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrDetailsNotFound)

	in := DetailsInput{
		FirstName:   " Bob ",
		LastName:    "Builder",
		MiddleName:  "",
		Email:       "bob@example.com",
		DateOfBirth: "1985-12-31",
		PhoneNumber: "71234567890",
	}
	d, err := svc.Save(ctx, u.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Bob", *d.FirstName)
	assert.Nil(t, d.MiddleName)
	require.NotNil(t, d.DateOfBirth)
	assert.Equal(t, "1985-12-31", d.DateOfBirth.Format(dateLayout))

	other := u.ID + 1
	in.UserID = &other
	_, err = svc.Save(ctx, u.ID, in)
	assert.Equal(t, KindValidation, classifyError(err).Kind, "body userId must match the path")

	in.UserID = nil
	_, err = svc.Save(ctx, 999, in)
	assert.ErrorIs(t, err, ErrUserNotFound)

	invalid := []DetailsInput{
		{LastName: "B", Email: "b@example.com"},
		{FirstName: "B", Email: "b@example.com"},
		{FirstName: "B", LastName: "B"},
		{FirstName: "B", LastName: "B", Email: "Bob <b@example.com>"},
		{FirstName: "B", LastName: "B", Email: "b@example.com", PhoneNumber: "12-34"},
		{FirstName: "B", LastName: "B", Email: "b@example.com", DateOfBirth: "31.12.1985"},
		{FirstName: "   ", LastName: "B", Email: "b@example.com"},
		{FirstName: "B", LastName: "B", Email: "b@example.com", DateOfBirth: "1985-02-30"},
	}
	for _, bad := range invalid {
		_, err := svc.Save(ctx, u.ID, bad)
		assert.Equal(t, KindValidation, classifyError(err).Kind, "%+v", bad)
	}

	require.NoError(t, svc.Delete(ctx, u.ID))
	require.NoError(t, svc.Delete(ctx, u.ID))
	_, err = svc.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrDetailsNotFound)
}
