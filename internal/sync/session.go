package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
	"github.com/KestrelAS/ghost-auth-sub000/internal/merge"
	"github.com/KestrelAS/ghost-auth-sub000/internal/vault"
)

// State is a Sync Session's lifecycle stage (§4.7.6).
type State int

const (
	StateIdle State = iota
	StateAdvertising
	StateConnecting
	StateHandshaking
	StateExchanging
	StateMergeReady
	StateConfirmed
	StateCancelled
	StateError
)

const (
	advertiseToHandshakeTimeout = 5 * time.Minute
	perStepReceiveTimeout       = 30 * time.Second
	singleHostConnectTimeout    = 15 * time.Second
	perHostConnectTimeout       = 5 * time.Second
)

var (
	ErrCancelled        = errors.New("sync: session cancelled")
	ErrTransportFailure = errors.New("sync: transport failure before merge-ready")
)

// Session is owned exclusively by the process that created it; it is
// destroyed on success, cancel, timeout, or fatal error.
type Session struct {
	ID           string
	Code         string
	PreSharedKey []byte
	SessionKey   []byte
	State        State
	PeerDeviceID string

	conn   net.Conn
	cancel context.CancelFunc
}

// Plan wraps a merge.Plan with the remote timestamp needed to update
// sync history once the caller confirms it.
type Plan struct {
	merge.Plan
	RemoteDeviceID string
	RemoteTime     int64
}

// Close tears down the session: closes the socket and zeroizes its keys.
// No partial vault mutation has occurred by this point in any state.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	crypto.ClearBytes(s.PreSharedKey)
	crypto.ClearBytes(s.SessionKey)
	s.State = StateCancelled
}

// StartInitiator generates a sync code, binds a listener on an ephemeral
// port on all interfaces, and returns the session together with the
// advertisement to display (the non-loopback IPv4 addresses, or 127.0.0.1
// when there are none). The caller must call Accept to run
// the handshake once a joiner connects.
func StartInitiator() (*Session, net.Listener, Advertisement, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, nil, Advertisement{}, err
	}

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, nil, Advertisement{}, fmt.Errorf("sync: bind listener: %w", err)
	}

	hosts, err := nonLoopbackAddresses()
	if err != nil {
		listener.Close()
		return nil, nil, Advertisement{}, err
	}

	port := listener.Addr().(*net.TCPAddr).Port
	session := &Session{
		ID:           code[:8],
		Code:         code,
		PreSharedKey: DerivePreSharedKey(code),
		State:        StateAdvertising,
	}
	adv := Advertisement{Code: FormatCode(CleanCode(code)), Hosts: hosts, Port: port}
	return session, listener, adv, nil
}

func nonLoopbackAddresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("sync: enumerate interfaces: %w", err)
	}
	var hosts []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		hosts = append(hosts, ipNet.IP.String())
	}
	if len(hosts) == 0 {
		hosts = []string{"127.0.0.1"}
	}
	return hosts, nil
}

// Accept waits (bounded by advertiseToHandshakeTimeout) for a joiner to
// connect to listener, then runs the initiator side of the handshake and
// exchanges payloads, producing a merge Plan against localAccounts and
// localTombstones. lastSyncWithPeer comes from the caller's sync history,
// looked up once the peer device id is known from the exchange.
func (s *Session) Accept(listener net.Listener, deviceID string, localAccounts []vault.Account, localTombstones []vault.Tombstone, lookupLastSync func(peerDeviceID string) int64) (*Plan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), advertiseToHandshakeTimeout)
	s.cancel = cancel
	defer cancel()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sync: %w waiting for joiner", ctx.Err())
	case res := <-acceptCh:
		if res.err != nil {
			return nil, fmt.Errorf("sync: accept connection: %w", res.err)
		}
		s.conn = res.conn
	}

	s.State = StateHandshaking
	stepCtx, stepCancel := context.WithTimeout(ctx, perStepReceiveTimeout)
	defer stepCancel()

	nonce, err := RunInitiatorHandshake(stepCtx, s.conn, s.PreSharedKey)
	if err != nil {
		s.conn.Close()
		s.State = StateError
		return nil, err
	}
	sessionKey, err := DeriveSessionKey(s.PreSharedKey, nonce)
	if err != nil {
		return nil, err
	}
	s.SessionKey = sessionKey

	s.State = StateExchanging
	joinerPayload, err := ReceivePayload(stepCtx, s.conn, sessionKey)
	if err != nil {
		s.State = StateError
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	myPayload, err := buildExchangePayload(deviceID, s.PreSharedKey, localAccounts, localTombstones)
	if err != nil {
		return nil, err
	}
	if err := SendPayload(stepCtx, s.conn, sessionKey, *myPayload); err != nil {
		s.State = StateError
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	return s.buildPlan(joinerPayload, s.PreSharedKey, localAccounts, localTombstones, lookupLastSync)
}

// Join connects to one of the advertised hosts (trying each in order
// with a per-host timeout, or a single host with a longer timeout),
// runs the joiner side of the handshake, sends first, then receives.
func Join(adv Advertisement, deviceID string, localAccounts []vault.Account, localTombstones []vault.Tombstone, lookupLastSync func(peerDeviceID string) int64) (*Session, *Plan, error) {
	clean := CleanCode(adv.Code)
	if err := ValidateCode(clean); err != nil {
		return nil, nil, err
	}

	conn, err := dialAny(adv.Hosts, adv.Port)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{
		ID:           clean[:8],
		Code:         clean,
		PreSharedKey: DerivePreSharedKey(clean),
		State:        StateHandshaking,
		conn:         conn,
	}

	ctx, cancel := context.WithTimeout(context.Background(), perStepReceiveTimeout)
	s.cancel = cancel
	defer cancel()

	nonce, err := RunJoinerHandshake(ctx, conn, s.PreSharedKey)
	if err != nil {
		conn.Close()
		s.State = StateError
		return nil, nil, err
	}
	sessionKey, err := DeriveSessionKey(s.PreSharedKey, nonce)
	if err != nil {
		return nil, nil, err
	}
	s.SessionKey = sessionKey

	s.State = StateExchanging
	myPayload, err := buildExchangePayload(deviceID, s.PreSharedKey, localAccounts, localTombstones)
	if err != nil {
		return nil, nil, err
	}
	if err := SendPayload(ctx, conn, sessionKey, *myPayload); err != nil {
		s.State = StateError
		return nil, nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	initiatorPayload, err := ReceivePayload(ctx, conn, sessionKey)
	if err != nil {
		s.State = StateError
		return nil, nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	plan, err := s.buildPlan(initiatorPayload, s.PreSharedKey, localAccounts, localTombstones, lookupLastSync)
	if err != nil {
		return nil, nil, err
	}
	return s, plan, nil
}

func dialAny(hosts []string, port int) (net.Conn, error) {
	if len(hosts) == 1 {
		return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", hosts[0], port), singleHostConnectTimeout)
	}
	var lastErr error
	for _, h := range hosts {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", h, port), perHostConnectTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("sync: could not connect to any advertised host: %w", lastErr)
}

func buildExchangePayload(deviceID string, preSharedKey []byte, accounts []vault.Account, tombstones []vault.Tombstone) (*ExchangePayload, error) {
	encrypted := make([]EncryptedAccount, 0, len(accounts))
	for _, a := range accounts {
		accountJSON, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("sync: encode account %s: %w", a.ID, err)
		}
		ea, err := SealAccount(preSharedKey, accountJSON, a.ID, a.LastModified)
		if err != nil {
			return nil, err
		}
		encrypted = append(encrypted, ea)
	}

	wireTombstones := make([]Tombstone, 0, len(tombstones))
	for _, t := range tombstones {
		wireTombstones = append(wireTombstones, Tombstone{ID: t.ID, DeletedAt: t.DeletedAt})
	}

	return &ExchangePayload{
		DeviceID:   deviceID,
		Timestamp:  time.Now().Unix(),
		Accounts:   encrypted,
		Tombstones: wireTombstones,
	}, nil
}

func (s *Session) buildPlan(remote *ExchangePayload, preSharedKey []byte, localAccounts []vault.Account, localTombstones []vault.Tombstone, lookupLastSync func(string) int64) (*Plan, error) {
	s.PeerDeviceID = remote.DeviceID

	remoteAccounts := make([]merge.Account, 0, len(remote.Accounts))
	for _, ea := range remote.Accounts {
		plaintext, err := OpenAccount(preSharedKey, ea)
		if err != nil {
			return nil, err
		}
		var account vault.Account
		if err := json.Unmarshal(plaintext, &account); err != nil {
			return nil, fmt.Errorf("sync: decode remote account: %w", err)
		}
		remoteAccounts = append(remoteAccounts, merge.Account{ID: account.ID, LastModified: account.LastModified, Value: account})
	}

	remoteTombstones := make([]merge.Tombstone, 0, len(remote.Tombstones))
	for _, t := range remote.Tombstones {
		remoteTombstones = append(remoteTombstones, merge.Tombstone{ID: t.ID, DeletedAt: t.DeletedAt})
	}

	localMergeAccounts := make([]merge.Account, 0, len(localAccounts))
	for _, a := range localAccounts {
		localMergeAccounts = append(localMergeAccounts, merge.Account{ID: a.ID, LastModified: a.LastModified, Value: a})
	}
	localMergeTombstones := make([]merge.Tombstone, 0, len(localTombstones))
	for _, t := range localTombstones {
		localMergeTombstones = append(localMergeTombstones, merge.Tombstone{ID: t.ID, DeletedAt: t.DeletedAt})
	}

	lastSync := lookupLastSync(remote.DeviceID)
	plan := merge.Merge(localMergeAccounts, localMergeTombstones, remoteAccounts, remoteTombstones, lastSync)

	s.State = StateMergeReady
	return &Plan{Plan: plan, RemoteDeviceID: remote.DeviceID, RemoteTime: remote.Timestamp}, nil
}
