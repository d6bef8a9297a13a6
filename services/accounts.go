package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hyrebuy-backend/models"
	"hyrebuy-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type AccountService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	JWTSecret string
	TokenTTL  time.Duration
}

func NewAccountService(db *gorm.DB, log *zap.Logger, jwtSecret string, tokenTTL time.Duration) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{DB: db, Log: log, JWTSecret: jwtSecret, TokenTTL: tokenTTL}
}

type RegisterInput struct {
	Email    string  `json:"email" validate:"required,email,max=255"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Name     string  `json:"name" validate:"required,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
}

type AuthResult struct {
	Token   string          `json:"access_token"`
	Type    string          `json:"token_type"`
	Account *models.Account `json:"account"`
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := Validate(in); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acct := models.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: hash,
	}
	if err := s.DB.WithContext(ctx).Create(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, storageErr("create account", err)
	}
	s.Log.Info("[ACCOUNTS] account registered", zap.String("account_id", acct.ID))
	return s.issue(&acct)
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acct models.Account
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storageErr("load account", err)
	}
	if !utils.CheckPassword(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(&acct)
}

func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: account", ErrNotFound)
		}
		return nil, storageErr("load account", err)
	}
	return &acct, nil
}

func (s *AccountService) issue(acct *models.Account) (*AuthResult, error) {
	token, err := utils.GenerateToken(s.JWTSecret, acct.ID, acct.Email, s.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AuthResult{Token: token, Type: "bearer", Account: acct}, nil
}
