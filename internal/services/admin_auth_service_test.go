package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupArgon2Config() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret-key")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAdminPasswordHashing(t *testing.T) {
	setupArgon2Config()

	t.Run("hash and verify round trip", func(t *testing.T) {
		hash, err := hashAdminPassword("correct horse battery staple")
		assert.NoError(t, err)
		assert.NotEmpty(t, hash)

		assert.True(t, verifyAdminPassword("correct horse battery staple", hash))
		assert.False(t, verifyAdminPassword("wrong password", hash))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		h1, err := hashAdminPassword("password123")
		assert.NoError(t, err)
		h2, err := hashAdminPassword("password123")
		assert.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("malformed stored hash fails closed", func(t *testing.T) {
		assert.False(t, verifyAdminPassword("anything", "not-a-valid-hash"))
		assert.False(t, verifyAdminPassword("anything", "a$b$c"))
		assert.False(t, verifyAdminPassword("anything", "!!!$???"))
	})
}

func TestGenerateAdminJWT(t *testing.T) {
	setupArgon2Config()

	tokenString, err := generateAdminJWT("admin-1")
	assert.NoError(t, err)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret-key"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, "admin-1", claims["admin_id"])
	assert.Equal(t, "admin", claims["role"])
	assert.NotNil(t, claims["exp"])
}

func TestAdminAuthService_SeedAdmin(t *testing.T) {
	setupArgon2Config()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdminAuthService(db, nil)

	mock.ExpectExec("INSERT INTO admins \\(id, email, password\\) VALUES \\(\\$1, \\$2, \\$3\\) ON CONFLICT \\(email\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), "ops@tradesafi.example", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.SeedAdmin("Ops@TradeSafi.Example", "hunter2hunter2")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
