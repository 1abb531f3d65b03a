package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"vetchat_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.DB.Create(user).Error
}

func (r *UserRepository) FindByUserID(userID string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("user_id = ?", userID).First(&user).Error
	return &user, err
}

func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("email = ?", email).First(&user).Error
	return &user, err
}

func (r *UserRepository) Update(user *model.User) error {
	return r.DB.Save(user).Error
}

func (r *UserRepository) UpdateLastLogin(userID string) error {
	now := time.Now()
	return r.DB.Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("last_login", now).Error
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *UserRepository) SaveRefreshToken(userID, token string, expiresAt time.Time) error {
	rt := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: expiresAt,
	}
	return r.DB.Create(rt).Error
}

func (r *UserRepository) FindRefreshToken(token string) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := r.DB.Where("token_hash = ? AND is_revoked = ? AND expires_at > ?",
		hashToken(token), false, time.Now()).First(&rt).Error
	return &rt, err
}

func (r *UserRepository) RevokeRefreshToken(token string) error {
	return r.DB.Model(&model.RefreshToken{}).
		Where("token_hash = ?", hashToken(token)).
		Update("is_revoked", true).Error
}

func (r *UserRepository) RevokeAllRefreshTokens(userID string) error {
	return r.DB.Model(&model.RefreshToken{}).
		Where("user_id = ?", userID).
		Update("is_revoked", true).Error
}
