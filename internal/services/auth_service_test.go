package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configureAuthForTest(t *testing.T) {
	t.Helper()
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
}

func TestAuthService_Register(t *testing.T) {
	configureAuthForTest(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	t.Run("creates the user and opens a session", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "Ayesha Khan", "ayesha@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		redisMock.Regexp().ExpectSet(`session:.*`, "1", 24*time.Hour).SetVal("OK")

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/register",
			strings.NewReader(`{"name":"Ayesha Khan","email":"Ayesha@Example.com","password":"correct-horse-battery"}`))

		service.Register(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "ayesha@example.com", resp.User.Email)
		assert.NotEmpty(t, resp.User.ID)

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, claims["user_id"])

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505"})

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/register",
			strings.NewReader(`{"name":"Ayesha Khan","email":"ayesha@example.com","password":"correct-horse-battery"}`))

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short password rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/register",
			strings.NewReader(`{"name":"Ayesha Khan","email":"ayesha@example.com","password":"short"}`))

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	configureAuthForTest(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	hash, err := hashPassword("correct-horse-battery")
	require.NoError(t, err)

	userColumns := []string{"id", "name", "email", "password_hash", "last_login", "created_at", "updated_at"}
	now := time.Now()

	t.Run("valid credentials issue a token", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, email, password_hash, last_login, created_at, updated_at FROM users WHERE email = \\$1").
			WithArgs("ayesha@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow("user-1", "Ayesha Khan", "ayesha@example.com", hash, nil, now, now))
		mock.ExpectExec(`UPDATE users SET last_login = \$1 WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		redisMock.ExpectSet("session:user-1", "1", 24*time.Hour).SetVal("OK")

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"Ayesha@example.com","password":"correct-horse-battery"}`))

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.NotNil(t, resp.User.LastLogin)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("wrong password unauthorized", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, email, password_hash, last_login, created_at, updated_at FROM users WHERE email = \\$1").
			WithArgs("ayesha@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow("user-1", "Ayesha Khan", "ayesha@example.com", hash, nil, now, now))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"ayesha@example.com","password":"wrong-password"}`))

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown email unauthorized", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, email, password_hash, last_login, created_at, updated_at FROM users WHERE email = \\$1").
			WithArgs("nobody@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"nobody@example.com","password":"correct-horse-battery"}`))

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Logout(t *testing.T) {
	configureAuthForTest(t)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	redisMock.ExpectDel("session:user-1").SetVal(1)

	w := httptest.NewRecorder()
	r := authedRequest(http.MethodPost, "/auth/logout", "", "user-1")

	service.Logout(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestAuthService_GetProfile(t *testing.T) {
	configureAuthForTest(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)
	now := time.Now()

	t.Run("returns the caller's profile", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, email, last_login, created_at, updated_at FROM users WHERE id = \\$1").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "last_login", "created_at", "updated_at"}).
				AddRow("user-1", "Ayesha Khan", "ayesha@example.com", now, now, now))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/auth/me", "", "user-1")

		service.GetProfile(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ayesha@example.com")
		assert.NotContains(t, w.Body.String(), "password")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleted user reads as not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, email, last_login, created_at, updated_at FROM users WHERE id = \\$1").
			WithArgs("gone").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "last_login", "created_at", "updated_at"}))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/auth/me", "", "gone")

		service.GetProfile(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPasswordHashing(t *testing.T) {
	configureAuthForTest(t)

	hash, err := hashPassword("s3cret-passphrase")
	require.NoError(t, err)

	assert.True(t, verifyPassword("s3cret-passphrase", hash))
	assert.False(t, verifyPassword("other-passphrase", hash))
	assert.False(t, verifyPassword("s3cret-passphrase", "not-a-hash"))

	other, err := hashPassword("s3cret-passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)
}
