package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"premiosplatzi/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthService struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateAdminRequest struct {
	Username string `json:"username" binding:"required,min=3,max=150"`
	Password string `json:"password" binding:"required,min=8"`
}

type AuthResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      models.AdminUser `json:"user"`
}

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *AuthService) CreateAdmin(ctx context.Context, req *CreateAdminRequest) (*models.AdminUser, error) {
	const op = "AuthService.CreateAdmin"

	username := strings.TrimSpace(req.Username)
	if username == "" || len(req.Password) < 8 {
		return nil, fmt.Errorf("%s: %w: username and a password of at least 8 characters are required", op, ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := models.AdminUser{
		Username:     username,
		PasswordHash: string(hash),
	}
	// The unique index decides between concurrent creates of one username.
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoNothing: true,
		}).
		Create(&user)
	if res.Error != nil {
		return nil, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
	}
	return &user, nil
}

// EnsureAdmin creates the bootstrap admin unless that username already
// exists. It reports whether a user was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.CreateAdmin(ctx, &CreateAdminRequest{Username: username, Password: password})
	if errors.Is(err, ErrUsernameTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	const op = "AuthService.Login"

	var user models.AdminUser
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, expiresAt, err := s.generateToken(&user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

func (s *AuthService) GetAdmin(ctx context.Context, id uint) (*models.AdminUser, error) {
	const op = "AuthService.GetAdmin"

	var user models.AdminUser
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// ValidateToken parses an HS256 token issued by Login.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (s *AuthService) generateToken(user *models.AdminUser) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
