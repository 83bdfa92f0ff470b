package settlement

import (
	"errors"
	"fmt"
	"time"

	"points_engine/internal/pending"

	"github.com/golang-jwt/jwt/v5"
)

// qrClaims is the signed QR payload. The whole pending transaction travels
// inside it so a scan can be settled without the pending store.
type qrClaims struct {
	Transaction pending.Transaction `json:"txn"`
	jwt.RegisteredClaims
}

type qrCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func (c qrCodec) encode(tx *pending.Transaction) (string, error) {
	if len(c.secret) == 0 {
		return "", errors.New("settlement: qr signing secret not configured")
	}
	claims := qrClaims{
		Transaction: *tx,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tx.ReferenceNumber,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(tx.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(tx.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("settlement: sign qr payload: %w", err)
	}
	return signed, nil
}

// decode verifies the signature, issuer and expiry of a scanned payload.
// Every failure maps to ErrCodeInvalidOrExpired.
func (c qrCodec) decode(payload string) (*pending.Transaction, error) {
	if len(c.secret) == 0 {
		return nil, errors.New("settlement: qr signing secret not configured")
	}
	claims := &qrClaims{}
	_, err := jwt.ParseWithClaims(payload, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeInvalidOrExpired, err)
	}
	tx := claims.Transaction
	if tx.ReferenceNumber == "" || tx.ReferenceNumber != claims.ID {
		return nil, fmt.Errorf("%w: payload reference mismatch", ErrCodeInvalidOrExpired)
	}
	return &tx, nil
}
