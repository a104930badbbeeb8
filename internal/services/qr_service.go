package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/desibank/backend/internal/config"
	"github.com/desibank/backend/internal/models"
	"github.com/desibank/backend/internal/money"
)

var ErrQRExpired = errors.New("invalid or expired QR code")

// QRService issues single-use receive-money tokens. A token binds the
// owner's account (and optionally a fixed amount) and lives in redis until
// it is redeemed or its TTL lapses.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.QRConfig
}

func NewQRService(db *sql.DB, redisClient *redis.Client, cfg *config.QRConfig) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

// QRPayload is what a scanner recovers from a receive-money code.
type QRPayload struct {
	AccountID string           `json:"accountId"`
	UserID    string           `json:"userId"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Currency  string           `json:"currency"`
	IssuedAt  int64            `json:"issuedAt"`
	Nonce     string           `json:"nonce"`
}

// GenerateQRCode builds a token for the given account and returns the token
// plus a base64 PNG rendering. Amount is optional; a nil amount lets the
// payer choose.
func (s *QRService) GenerateQRCode(ctx context.Context, userID, accountID string, amount *decimal.Decimal) (string, string, error) {
	var ownerID, currency string
	var status models.AccountStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, currency, status FROM accounts
		WHERE id = $1`, accountID).Scan(&ownerID, &currency, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return "", "", storageErr("fetch account", err)
	}
	if ownerID != userID {
		return "", "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if status != models.AccountStatusActive {
		return "", "", fmt.Errorf("%w: account %s is %s", ErrAccountInactive, accountID, status)
	}
	if amount != nil && !money.IsValidAmount(*amount) {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidAmount, *amount)
	}

	payload := QRPayload{
		AccountID: accountID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		IssuedAt:  time.Now().Unix(),
		Nonce:     s.generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	token := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis == nil {
		return "", "", errors.New("QR tokens require a redis connection")
	}
	key := fmt.Sprintf("qr:%s", token)
	if err := s.redis.Set(ctx, key, string(jsonData), s.cfg.TokenTTL).Err(); err != nil {
		return "", "", storageErr("store QR token", err)
	}

	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(s.cfg.MaxSize)); err != nil {
		return "", "", err
	}

	return token, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ProcessQRCode redeems a scanned token. Redemption is single-use: the
// token is deleted as it is resolved.
func (s *QRService) ProcessQRCode(ctx context.Context, token string) (*QRPayload, error) {
	if s.redis == nil {
		return nil, ErrQRExpired
	}

	key := fmt.Sprintf("qr:%s", token)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrQRExpired
	}
	if err != nil {
		return nil, storageErr("fetch QR token", err)
	}

	var payload QRPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrQRExpired
	}

	s.redis.Del(ctx, key)

	return &payload, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
