package core

import (
	"context"
	"strings"
)

// DetailsInput is the payload of POST/PUT /api/users/:id/details.
type DetailsInput struct {
	UserID      *int64 `json:"userId"`
	FirstName   string `json:"firstName" binding:"required,notblank,max=100"`
	LastName    string `json:"lastName" binding:"required,notblank,max=100"`
	MiddleName  string `json:"middleName" binding:"max=100"`
	Email       string `json:"email" binding:"required,email,max=255"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty,datetime=2006-01-02"`
	PhoneNumber string `json:"phoneNumber" binding:"omitempty,phone"`
}

// DetailsService manages the profile details of existing users.
type DetailsService struct {
	users   UserRepository
	details DetailsRepository
}

func NewDetailsService(users UserRepository, details DetailsRepository) *DetailsService {
	return &DetailsService{users: users, details: details}
}

func (s *DetailsService) Get(ctx context.Context, userID int64) (*UserDetails, error) {
	return s.details.GetDetails(ctx, userID)
}

// Save creates or replaces the details of userID.
func (s *DetailsService) Save(ctx context.Context, userID int64, in DetailsInput) (*UserDetails, error) {
	d, err := in.toDetails(userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.details.UpsertDetails(ctx, d)
}

// Delete removes the details of userID; deleting absent details succeeds.
func (s *DetailsService) Delete(ctx context.Context, userID int64) error {
	return s.details.DeleteDetails(ctx, userID)
}

func (in DetailsInput) toDetails(userID int64) (UserDetails, error) {
	if in.UserID != nil && *in.UserID != userID {
		return UserDetails{}, validationError("userId does not match the path")
	}
	if err := validateInput(in); err != nil {
		return UserDetails{}, err
	}

	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	d := UserDetails{
		UserID:    userID,
		FirstName: &first,
		LastName:  &last,
		Email:     &in.Email,
	}
	if v := strings.TrimSpace(in.MiddleName); v != "" {
		d.MiddleName = &v
	}
	if in.PhoneNumber != "" {
		d.PhoneNumber = &in.PhoneNumber
	}
	if in.DateOfBirth != "" {
		dob, err := parseBirthDate(in.DateOfBirth)
		if err != nil {
			return UserDetails{}, err
		}
		d.DateOfBirth = dob
	}
	return d, nil
}
