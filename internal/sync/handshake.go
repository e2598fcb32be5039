package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
)

const handshakeNonceLen = 32

var ErrHandshakeFailed = errors.New("sync: authentication failed - the sync code may be incorrect")

// RunInitiatorHandshake performs the I-side of the mutual HMAC handshake
// (§4.7.3) over conn and returns the handshake nonce (used as the HKDF
// salt). On any mismatch it returns ErrHandshakeFailed without
// distinguishing the cause, and the caller should close conn immediately.
func RunInitiatorHandshake(ctx context.Context, conn net.Conn, preSharedKey []byte) ([]byte, error) {
	nonce, err := crypto.RandomBytes(handshakeNonceLen)
	if err != nil {
		return nil, err
	}
	if err := writeExact(ctx, conn, nonce); err != nil {
		return nil, fmt.Errorf("sync: send handshake nonce: %w", err)
	}

	tagJ, err := readExact(ctx, conn, sha256Size)
	if err != nil {
		return nil, fmt.Errorf("sync: receive joiner tag: %w", err)
	}
	expectedTagJ := crypto.HMAC256(preSharedKey, nonce)
	if !crypto.CTEqual(tagJ, expectedTagJ) {
		return nil, ErrHandshakeFailed
	}

	tagI := crypto.HMAC256(preSharedKey, tagJ)
	if err := writeExact(ctx, conn, tagI); err != nil {
		return nil, fmt.Errorf("sync: send initiator tag: %w", err)
	}

	return nonce, nil
}

// RunJoinerHandshake performs the J-side of the mutual HMAC handshake.
func RunJoinerHandshake(ctx context.Context, conn net.Conn, preSharedKey []byte) ([]byte, error) {
	nonce, err := readExact(ctx, conn, handshakeNonceLen)
	if err != nil {
		return nil, fmt.Errorf("sync: receive handshake nonce: %w", err)
	}

	tagJ := crypto.HMAC256(preSharedKey, nonce)
	if err := writeExact(ctx, conn, tagJ); err != nil {
		return nil, fmt.Errorf("sync: send joiner tag: %w", err)
	}

	tagI, err := readExact(ctx, conn, sha256Size)
	if err != nil {
		return nil, fmt.Errorf("sync: receive initiator tag: %w", err)
	}
	expectedTagI := crypto.HMAC256(preSharedKey, tagJ)
	if !crypto.CTEqual(tagI, expectedTagI) {
		return nil, ErrHandshakeFailed
	}

	return nonce, nil
}

const sha256Size = 32

// DeriveSessionKey computes K_sess = HKDF-SHA-256(K_pre, nonce, "ghost-auth-session-v1", 32).
func DeriveSessionKey(preSharedKey, handshakeNonce []byte) ([]byte, error) {
	return crypto.HKDFExpand(preSharedKey, handshakeNonce, []byte(crypto.SessionInfo), crypto.KeyLength)
}

func writeExact(ctx context.Context, conn net.Conn, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	_, err := conn.Write(data)
	return err
}

func readExact(ctx context.Context, conn net.Conn, n int) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
