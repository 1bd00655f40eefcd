package services

import (
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AdminAuthService authenticates arbitration staff. Admins are the only
// password-holding principals; trading parties authenticate through their
// chat platform and never touch this surface.
type AdminAuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// AdminLoginRequest represents the admin login payload
// @Description Admin login request structure
type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"ops@tradesafi.example"`
	Password string `json:"password" validate:"required,min=8" example:"hunter2hunter2"`
}

// AdminAuthResponse represents the admin authentication response
// @Description Admin authentication response structure
type AdminAuthResponse struct {
	Token   string `json:"token"`
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
}

func NewAdminAuthService(db *sql.DB, redisClient *redis.Client) *AdminAuthService {
	return &AdminAuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Login authenticates an admin
// @Summary Admin login
// @Description Authenticate an arbitration admin with email and password
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdminLoginRequest true "Login request"
// @Success 200 {object} AdminAuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Router /admin/login [post]
func (s *AdminAuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[ADMIN] Login attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req AdminLoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var adminID, storedHash string
	err := s.db.QueryRow("SELECT id, password FROM admins WHERE email = $1",
		strings.ToLower(req.Email)).Scan(&adminID, &storedHash)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[ADMIN] Login lookup failed for %s: %v", req.Email, err)
		}
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if !verifyAdminPassword(req.Password, storedHash) {
		log.Printf("[ADMIN] Invalid password for %s", req.Email)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := generateAdminJWT(adminID)
	if err != nil {
		log.Printf("[ADMIN] JWT generation failed for %s: %v", adminID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] Login successful for admin %s", adminID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AdminAuthResponse{
		Token:   token,
		AdminID: adminID,
		Email:   strings.ToLower(req.Email),
	})
}

// Logout revokes the presented token
// @Summary Admin logout
// @Description Revoke the current admin token
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string}
// @Failure 401 {string} string "Unauthorized"
// @Router /admin/logout [post]
func (s *AdminAuthService) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		http.Error(w, "Authorization header required", http.StatusUnauthorized)
		return
	}

	if s.redis != nil {
		ttl := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if err := s.redis.Set(r.Context(), "auth:revoked:"+parts[1], "1", ttl).Err(); err != nil {
			log.Printf("[ADMIN] Failed to revoke token: %v", err)
			SendErrorResponse(w, "Failed to revoke token", http.StatusInternalServerError, nil)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logged out"})
}

// SeedAdmin inserts an admin account if the email is not taken. Used at
// startup when ADMIN_EMAIL/ADMIN_PASSWORD are configured so a fresh deploy
// has a working arbitration login.
func (s *AdminAuthService) SeedAdmin(email, password string) error {
	hash, err := hashAdminPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO admins (id, email, password) VALUES ($1, $2, $3) ON CONFLICT (email) DO NOTHING",
		uuid.New().String(), strings.ToLower(email), hash)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func generateAdminJWT(adminID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin_id": adminID,
		"role":     "admin",
		"exp":      time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashAdminPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyAdminPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
