package service

import (
	"errors"
	"time"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/internal/repository"
	"vetchat_backend/internal/util"
	"vetchat_backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthService struct {
	UserRepo *repository.UserRepository
	cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{UserRepo: userRepo, cfg: cfg}
}

// TokenPair 액세스 토큰 + 회전되는 리프레시 토큰
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *AuthService) Register(userID, email, password, fullName string) (*model.User, error) {
	if _, err := s.UserRepo.FindByUserID(userID); err == nil {
		return nil, util.ErrUserIDTaken
	}
	if _, err := s.UserRepo.FindByEmail(email); err == nil {
		return nil, util.ErrEmailRegistered
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		UserID:   userID,
		Email:    email,
		Password: string(hashed),
		FullName: fullName,
		IsActive: true,
	}
	if err := s.UserRepo.Create(user); err != nil {
		return nil, err
	}

	logger.Log.Info("User registered", zap.String("user_id", userID))
	return user, nil
}

func (s *AuthService) Login(userID, password string) (*model.User, *TokenPair, error) {
	user, err := s.UserRepo.FindByUserID(userID)
	if err != nil {
		return nil, nil, util.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, nil, util.ErrInvalidCredentials
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}

	if err := s.UserRepo.UpdateLastLogin(user.UserID); err != nil {
		logger.Log.Warn("Failed to update last login", zap.Error(err))
	}
	return user, pair, nil
}

// Refresh 리프레시 토큰을 검증하고 토큰 쌍을 회전시킨다. 쓰인 토큰은
// 즉시 폐기된다.
func (s *AuthService) Refresh(refreshToken string) (*TokenPair, error) {
	rt, err := s.UserRepo.FindRefreshToken(refreshToken)
	if err != nil {
		return nil, util.ErrInvalidToken
	}

	user, err := s.UserRepo.FindByUserID(rt.UserID)
	if err != nil {
		return nil, util.ErrInvalidToken
	}

	if err := s.UserRepo.RevokeRefreshToken(refreshToken); err != nil {
		return nil, err
	}
	return s.issueTokens(user)
}

func (s *AuthService) Logout(refreshToken string) error {
	return s.UserRepo.RevokeRefreshToken(refreshToken)
}

func (s *AuthService) issueTokens(user *model.User) (*TokenPair, error) {
	access, err := util.GenerateJWT(user, s.cfg.JWT.Secret, s.cfg.JWT.ExpireTime)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	expiresAt := time.Now().Add(s.cfg.JWT.RefreshExpireTime)
	if err := s.UserRepo.SaveRefreshToken(user.UserID, refresh, expiresAt); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) GetProfile(userID string) (*model.User, error) {
	user, err := s.UserRepo.FindByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUserNotFound
	}
	return user, err
}

// ProfileUpdate nil 필드는 건드리지 않는다
type ProfileUpdate struct {
	FullName  *string    `json:"full_name"`
	Phone     *string    `json:"phone"`
	BirthDate *time.Time `json:"birth_date"`
	Gender    *string    `json:"gender"`
	Bio       *string    `json:"bio"`
}

func (s *AuthService) UpdateProfile(userID string, update ProfileUpdate) (*model.User, error) {
	user, err := s.GetProfile(userID)
	if err != nil {
		return nil, err
	}

	if update.FullName != nil {
		user.FullName = *update.FullName
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.BirthDate != nil {
		user.BirthDate = update.BirthDate
	}
	if update.Gender != nil {
		user.Gender = *update.Gender
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}

	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) SetProfileImage(userID, url string) (*model.User, error) {
	user, err := s.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	user.ProfileImageURL = url
	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}
