package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// APIKeyPrefix префикс для всех выданных ключей
	APIKeyPrefix = "a11y_"
	// MaxActiveAPIKeys жесткий потолок активных ключей на пользователя
	MaxActiveAPIKeys = 5

	apiKeySecretBytes = 24
	displayPrefixLen  = len(APIKeyPrefix) + 6
)

// APIKey ключ API. Секрет хранится только в виде хэша, отзыв = active=false.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"-"`
	Name       string     `db:"name" json:"name"`
	KeyHash    string     `db:"key_hash" json:"-"`
	KeyPrefix  string     `db:"key_prefix" json:"prefix"`
	Active     bool       `db:"active" json:"active"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Usable активен и не истек
func (k *APIKey) Usable(now time.Time) bool {
	if !k.Active {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// GenerateAPIKey создает новый секрет. Возвращает открытый ключ, префикс для отображения и хэш.
func GenerateAPIKey() (plain, prefix, hash string, err error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	plain = APIKeyPrefix + hex.EncodeToString(buf)
	return plain, plain[:displayPrefixLen], HashAPIKey(plain), nil
}

// HashAPIKey детерминированный хэш для поиска ключа по значению
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
