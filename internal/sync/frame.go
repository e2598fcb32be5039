package sync

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
)

const (
	maxFrameBody = 10*1024*1024 + 28 // 10 MiB + nonce + tag
	minFrameBody = crypto.NonceLength + 16
)

var (
	ErrFrameTooLarge = errors.New("sync: frame body exceeds maximum size")
	ErrFrameTooSmall = errors.New("sync: frame body smaller than nonce+tag")
)

// EncryptedAccount is an Account individually sealed under K_pre, so a
// recovered K_sess alone never reveals per-account secrets (§4.7.5).
type EncryptedAccount struct {
	ID           string `json:"id"`
	LastModified int64  `json:"last_modified"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
}

// ExchangePayload is the plaintext JSON body of one length-framed record.
type ExchangePayload struct {
	DeviceID   string             `json:"device_id"`
	Timestamp  int64              `json:"timestamp"`
	Accounts   []EncryptedAccount `json:"accounts"`
	Tombstones []Tombstone        `json:"tombstones"`
}

// Tombstone mirrors vault.Tombstone for the wire payload, avoiding an
// import cycle between sync and vault.
type Tombstone struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deleted_at"`
}

// sealFrame encrypts body under sessionKey and writes the length-framed
// record: 4-byte BE length, then nonce||ciphertext.
func sealFrame(ctx context.Context, conn net.Conn, sessionKey, body []byte) error {
	nonce, ciphertext, err := crypto.AEADSeal(sessionKey, body)
	if err != nil {
		return err
	}
	frameBody := append(append([]byte{}, nonce...), ciphertext...)
	if len(frameBody) > maxFrameBody {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frameBody)))
	if err := writeExact(ctx, conn, header); err != nil {
		return fmt.Errorf("sync: write frame header: %w", err)
	}
	if err := writeExact(ctx, conn, frameBody); err != nil {
		return fmt.Errorf("sync: write frame body: %w", err)
	}
	return nil
}

// openFrame reads a length-framed record and decrypts it under sessionKey.
func openFrame(ctx context.Context, conn net.Conn, sessionKey []byte) ([]byte, error) {
	header, err := readExact(ctx, conn, 4)
	if err != nil {
		return nil, fmt.Errorf("sync: read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	if length > maxFrameBody {
		return nil, ErrFrameTooLarge
	}
	if length < minFrameBody {
		return nil, ErrFrameTooSmall
	}

	body, err := readExact(ctx, conn, int(length))
	if err != nil {
		return nil, fmt.Errorf("sync: read frame body: %w", err)
	}
	nonce := body[:crypto.NonceLength]
	ciphertext := body[crypto.NonceLength:]

	plaintext, err := crypto.AEADOpen(sessionKey, nonce, ciphertext)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	return plaintext, nil
}

// SendPayload seals payload as JSON and sends it as one frame.
func SendPayload(ctx context.Context, conn net.Conn, sessionKey []byte, payload ExchangePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sync: encode payload: %w", err)
	}
	return sealFrame(ctx, conn, sessionKey, body)
}

// ReceivePayload reads and decodes one frame into an ExchangePayload.
func ReceivePayload(ctx context.Context, conn net.Conn, sessionKey []byte) (*ExchangePayload, error) {
	plaintext, err := openFrame(ctx, conn, sessionKey)
	if err != nil {
		return nil, err
	}
	var payload ExchangePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("sync: decode payload: %w", err)
	}
	return &payload, nil
}

// SealAccount individually seals an account's JSON body under K_pre.
func SealAccount(preSharedKey []byte, accountJSON []byte, id string, lastModified int64) (EncryptedAccount, error) {
	nonce, ciphertext, err := crypto.AEADSeal(preSharedKey, accountJSON)
	if err != nil {
		return EncryptedAccount{}, err
	}
	return EncryptedAccount{ID: id, LastModified: lastModified, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// OpenAccount decrypts an EncryptedAccount's ciphertext under K_pre,
// returning the Account JSON body.
func OpenAccount(preSharedKey []byte, ea EncryptedAccount) ([]byte, error) {
	plaintext, err := crypto.AEADOpen(preSharedKey, ea.Nonce, ea.Ciphertext)
	if err != nil {
		return nil, ErrHandshakeFailed
	}
	return plaintext, nil
}
