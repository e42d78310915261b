package core

import (
	"context"
	"fmt"
)

// CreateUserInput is the payload of POST /api/users.
type CreateUserInput struct {
	Username string  `json:"username" binding:"required,min=3,max=50,username"`
	Password string  `json:"password" binding:"required,min=6,max=100,letterdigit"`
	RoleIDs  []int64 `json:"roleIds" binding:"omitempty,dive,gt=0"`
}

// UpdateUserInput is the payload of PUT /api/users/:id. An empty Password keeps
// the current one; a nil RoleIDs keeps the current roles.
type UpdateUserInput struct {
	Username string  `json:"username" binding:"required,min=3,max=50,username"`
	Password string  `json:"password" binding:"omitempty,min=6,max=100,letterdigit"`
	RoleIDs  []int64 `json:"roleIds" binding:"omitempty,dive,gt=0"`
}

// UserService implements account management on top of the repositories.
type UserService struct {
	users  UserRepository
	roles  RoleRepository
	hasher PasswordHasher
}

func NewUserService(users UserRepository, roles RoleRepository, hasher PasswordHasher) *UserService {
	return &UserService{users: users, roles: roles, hasher: hasher}
}

func (s *UserService) List(ctx context.Context, page, perPage int) ([]UserRecord, int, error) {
	return s.users.List(ctx, page, perPage)
}

func (s *UserService) Get(ctx context.Context, id int64) (*UserRecord, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*UserRecord, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	roleIDs := in.RoleIDs
	if len(roleIDs) == 0 {
		def, err := s.roles.FindRoleByName(ctx, RoleUser)
		if err != nil {
			return nil, fmt.Errorf("default role: %w", err)
		}
		roleIDs = []int64{def.ID}
	} else if err := s.checkRoles(ctx, roleIDs); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, in.Username, hash, roleIDs)
}

func (s *UserService) Update(ctx context.Context, id int64, in UpdateUserInput) (*UserRecord, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	upd := UserUpdate{Username: in.Username}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}
	if in.RoleIDs != nil {
		if err := s.checkRoles(ctx, in.RoleIDs); err != nil {
			return nil, err
		}
		upd.RoleIDs = in.RoleIDs
	}
	return s.users.Update(ctx, id, upd)
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	return s.users.Delete(ctx, id)
}

func (s *UserService) checkRoles(ctx context.Context, ids []int64) error {
	unique := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	found, err := s.roles.FindRolesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(unique) {
		return ErrUnknownRole
	}
	return nil
}
