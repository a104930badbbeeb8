package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	viper.Set("jwt.secret_key", "test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	echoUserID := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value("userID").(string)
		w.Write([]byte(userID))
	})

	t.Run("valid token with live session passes through", func(t *testing.T) {
		client, redisMock := redismock.NewClientMock()
		redisMock.ExpectGet("session:user-1").SetVal("1")

		handler := NewAuthMiddleware(client)(echoUserID)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1"))
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Body.String())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("revoked session rejected", func(t *testing.T) {
		client, redisMock := redismock.NewClientMock()
		redisMock.ExpectGet("session:user-1").RedisNil()

		handler := NewAuthMiddleware(client)(echoUserID)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1"))
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Session expired")
	})

	t.Run("nil session store skips the revocation check", func(t *testing.T) {
		handler := NewAuthMiddleware(nil)(echoUserID)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-7"))
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-7", w.Body.String())
	})

	t.Run("missing header rejected", func(t *testing.T) {
		handler := NewAuthMiddleware(nil)(echoUserID)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/accounts", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed token rejected", func(t *testing.T) {
		handler := NewAuthMiddleware(nil)(echoUserID)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		r.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
