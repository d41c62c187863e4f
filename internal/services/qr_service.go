package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/estatedesk/backoffice/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues short-lived QR payloads for bill payments. The
// payload lives in Redis for five minutes and is consumed on scan.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

func (s *QRService) GenerateBillQR(ctx context.Context, ownerID, billID string) (string, string, error) {
	row := s.db.QueryRow(`SELECT `+billColumns+` FROM bills WHERE id = $1`, billID)
	bill, err := scanBill(row)
	if err == sql.ErrNoRows {
		return "", "", ErrBillNotFound(billID)
	}
	if err != nil {
		return "", "", err
	}
	if bill.OwnerID != ownerID {
		return "", "", ErrForbidden(billID)
	}
	if bill.Status != models.BillStatusUnpaid {
		return "", "", ErrInvalidBillState(billID, bill.Status)
	}

	qrData := map[string]any{
		"billId":    bill.ID,
		"billNo":    bill.BillNo,
		"ownerId":   ownerID,
		"amount":    bill.AmountDue,
		"timestamp": time.Now().Unix(),
		"nonce":     s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis == nil {
		return "", "", fmt.Errorf("QR payload store unavailable")
	}
	key := fmt.Sprintf("billqr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

func (s *QRService) ProcessBillQR(ctx context.Context, qrData string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("QR payload store unavailable")
	}

	key := fmt.Sprintf("billqr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
