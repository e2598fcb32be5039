// Package vault implements the Vault (§4.3): durable encrypted storage of
// Accounts and Tombstones, envelope-encrypted under a Master Key held in
// the Secure Key Store, with atomic on-disk rewrites.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KestrelAS/ghost-auth-sub000/internal/crypto"
	"github.com/KestrelAS/ghost-auth-sub000/internal/keystore"
	"github.com/KestrelAS/ghost-auth-sub000/internal/totp"
)

const (
	masterKeySlot    = "master_key"
	schemaVersion    = 1
	tombstoneMaxAge  = 90 * 24 * time.Hour
	vaultFileName    = "vault.enc"
)

var (
	ErrKeyStore         = errors.New("vault: secure key store unavailable")
	ErrCorrupt          = errors.New("vault: cannot be opened")
	ErrInvalidSecret    = errors.New("vault: invalid secret")
	ErrInvalidParams    = errors.New("vault: invalid account parameters")
	ErrNotFound         = errors.New("vault: account not found")
)

var secretPattern = regexp.MustCompile(`^[A-Z2-7]+=*$`)

// Account is the full in-memory record, including its secret. It never
// crosses the component boundary directly; List returns Display values.
type Account struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	Label        string `json:"label"`
	Secret       string `json:"secret"`
	Algorithm    string `json:"algorithm"`
	Digits       int    `json:"digits"`
	Period       int    `json:"period"`
	Icon         string `json:"icon,omitempty"`
	LastModified int64  `json:"last_modified"`
}

// Display is an Account with secret stripped, returned by List.
type Display struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	Label        string `json:"label"`
	Algorithm    string `json:"algorithm"`
	Digits       int    `json:"digits"`
	Period       int    `json:"period"`
	Icon         string `json:"icon,omitempty"`
	LastModified int64  `json:"last_modified"`
}

func (a Account) toDisplay() Display {
	return Display{
		ID:           a.ID,
		Issuer:       a.Issuer,
		Label:        a.Label,
		Algorithm:    a.Algorithm,
		Digits:       a.Digits,
		Period:       a.Period,
		Icon:         a.Icon,
		LastModified: a.LastModified,
	}
}

// Tombstone records that an Account id was deleted at a point in time.
type Tombstone struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deleted_at"`
}

// Payload is the serialized contents of the vault: an ordered account
// list (order is user-meaningful) and an unordered tombstone set.
type Payload struct {
	Version    int         `json:"version"`
	DeviceID   string      `json:"device_id"`
	Accounts   []Account   `json:"accounts"`
	Tombstones []Tombstone `json:"tombstones"`
}

// Code is the output of GenerateCodes: never includes the raw secret.
type Code struct {
	ID        string
	Code      string
	Remaining int
}

// Vault owns the in-memory Account/Tombstone collections for one vault
// identity. All mutation methods persist via an atomic rewrite before
// returning success.
type Vault struct {
	path     string
	vaultID  string
	keys     *keystore.Store
	payload  Payload
	nowFunc  func() time.Time

	// needsMigration is set when load() decoded a formatLegacyPBKDF2
	// file; the next save() rewrites it as formatDirect.
	needsMigration bool
}

// Open ensures the Master Key exists (creating it on first run) and
// loads the vault payload, decrypting an existing file or starting from
// an empty payload if absent.
func Open(dir, vaultID string) (*Vault, error) {
	v := &Vault{
		path:    filepath.Join(dir, vaultFileName),
		vaultID: vaultID,
		keys:    keystore.New(vaultID),
		nowFunc: time.Now,
	}
	deviceID, err := loadOrCreateDeviceID(dir)
	if err != nil {
		return nil, fmt.Errorf("vault: device id: %w", err)
	}
	if err := v.initIfNeeded(); err != nil {
		return nil, err
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	v.payload.DeviceID = deviceID
	if v.needsMigration {
		if err := v.save(); err != nil {
			return nil, fmt.Errorf("vault: migrate legacy format: %w", err)
		}
	}
	return v, nil
}

func (v *Vault) initIfNeeded() error {
	_, err := v.keys.Get(masterKeySlot)
	if err == nil {
		return nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrKeyStore, err)
	}
	key, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)
	if err := v.keys.Put(masterKeySlot, key); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyStore, err)
	}
	return nil
}

func (v *Vault) masterKey() ([]byte, error) {
	key, err := v.keys.Get(masterKeySlot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStore, err)
	}
	return key, nil
}

func (v *Vault) load() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			v.payload = Payload{Version: schemaVersion}
			return nil
		}
		return fmt.Errorf("vault: read file: %w", err)
	}
	if len(data) < 1 {
		return ErrCorrupt
	}

	key, err := v.masterKey()
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	var plaintext []byte
	switch data[0] {
	case formatDirect:
		plaintext, err = crypto.Open(key, data[1:])
	case formatLegacyPBKDF2:
		plaintext, err = decodeLegacy(data[1:], key)
		if err == nil {
			v.needsMigration = true
		}
	default:
		err = ErrCorrupt
	}
	if err != nil {
		return ErrCorrupt
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return ErrCorrupt
	}
	v.payload = payload
	return nil
}

// save atomically rewrites the vault file: prune tombstones, encrypt,
// write to a temp file in the same directory, fsync, and rename over
// the target, leaving the prior file intact on crash.
func (v *Vault) save() error {
	v.pruneTombstones()

	plaintext, err := json.Marshal(v.payload)
	if err != nil {
		return fmt.Errorf("vault: encode payload: %w", err)
	}

	key, err := v.masterKey()
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	blob, err := crypto.Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("vault: seal: %w", err)
	}

	out := make([]byte, 0, len(blob)+1)
	out = append(out, formatDirect)
	out = append(out, blob...)
	v.needsMigration = false

	return writeFileAtomic(v.path, out)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("vault: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vault: commit temp file: %w", err)
	}
	return nil
}

func (v *Vault) pruneTombstones() {
	cutoff := v.nowFunc().Add(-tombstoneMaxAge).Unix()
	kept := v.payload.Tombstones[:0]
	for _, t := range v.payload.Tombstones {
		if t.DeletedAt >= cutoff {
			kept = append(kept, t)
		}
	}
	v.payload.Tombstones = kept
}

// List returns Account displays (no secret) in stored order.
func (v *Vault) List() []Display {
	out := make([]Display, 0, len(v.payload.Accounts))
	for _, a := range v.payload.Accounts {
		out = append(out, a.toDisplay())
	}
	return out
}

func cleanSecret(secret string) string {
	secret = strings.ToUpper(strings.Join(strings.Fields(secret), ""))
	return secret
}

// Add validates and appends an Account, stamping id and last_modified.
func (v *Vault) Add(issuer, label, secret, algorithm string, digits, period int) (Account, error) {
	cleaned := cleanSecret(secret)
	if !secretPattern.MatchString(cleaned) {
		return Account{}, ErrInvalidSecret
	}
	if digits < 6 || digits > 8 {
		return Account{}, ErrInvalidParams
	}
	if period < 15 || period > 120 {
		return Account{}, ErrInvalidParams
	}
	if issuer == "" && label == "" {
		return Account{}, ErrInvalidParams
	}

	account := Account{
		ID:           uuid.NewString(),
		Issuer:       issuer,
		Label:        label,
		Secret:       cleaned,
		Algorithm:    algorithm,
		Digits:       digits,
		Period:       period,
		LastModified: v.nextTimestamp(""),
	}
	v.payload.Accounts = append(v.payload.Accounts, account)
	if err := v.save(); err != nil {
		return Account{}, err
	}
	return account, nil
}

// nextTimestamp returns max(now, previous account's last_modified + 1),
// enforcing monotonicity per id across writes.
func (v *Vault) nextTimestamp(id string) int64 {
	now := v.nowFunc().Unix()
	if id == "" {
		return now
	}
	for _, a := range v.payload.Accounts {
		if a.ID == id && a.LastModified+1 > now {
			return a.LastModified + 1
		}
	}
	return now
}

// Edit updates issuer/label on an existing account, bumping last_modified.
func (v *Vault) Edit(id string, issuer, label *string) error {
	for i := range v.payload.Accounts {
		if v.payload.Accounts[i].ID != id {
			continue
		}
		if issuer != nil {
			v.payload.Accounts[i].Issuer = *issuer
		}
		if label != nil {
			v.payload.Accounts[i].Label = *label
		}
		v.payload.Accounts[i].LastModified = v.nextTimestamp(id)
		return v.save()
	}
	return ErrNotFound
}

// Delete removes an Account and appends a Tombstone. Deleting an unknown
// id is an idempotent no-op and does not create a tombstone.
func (v *Vault) Delete(id string) error {
	idx := -1
	for i, a := range v.payload.Accounts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	v.payload.Accounts = append(v.payload.Accounts[:idx], v.payload.Accounts[idx+1:]...)
	v.payload.Tombstones = append(v.payload.Tombstones, Tombstone{
		ID:        id,
		DeletedAt: v.nowFunc().Unix(),
	})
	return v.save()
}

// Reorder reorders accounts by the given id list; ids not present are
// appended in their original relative order at the tail.
func (v *Vault) Reorder(ids []string) error {
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	var ordered, rest []Account
	ordered = make([]Account, len(ids))
	placed := make([]bool, len(ids))
	for _, a := range v.payload.Accounts {
		if pos, ok := position[a.ID]; ok {
			ordered[pos] = a
			placed[pos] = true
		} else {
			rest = append(rest, a)
		}
	}

	result := make([]Account, 0, len(v.payload.Accounts))
	for i, a := range ordered {
		if placed[i] {
			result = append(result, a)
		}
	}
	result = append(result, rest...)
	v.payload.Accounts = result
	return v.save()
}

// GenerateCodes returns one (id, code, remaining) per Account using the
// current wall clock. It never leaks secret outside this call.
func (v *Vault) GenerateCodes() ([]Code, error) {
	now := v.nowFunc()
	out := make([]Code, 0, len(v.payload.Accounts))
	for _, a := range v.payload.Accounts {
		code, remaining, err := totp.Generate(totp.Params{
			Secret:    a.Secret,
			Algorithm: totp.Algorithm(a.Algorithm),
			Digits:    a.Digits,
			Period:    a.Period,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("vault: generate code for %s: %w", a.ID, err)
		}
		out = append(out, Code{ID: a.ID, Code: code, Remaining: remaining})
	}
	return out, nil
}

// DeviceID returns this vault's stable install identifier.
func (v *Vault) DeviceID() string {
	return v.payload.DeviceID
}

// Snapshot returns copies of the current accounts and tombstones, for
// use by the Sync Engine and Merge Engine. Secrets are included since
// the Sync Engine operates within the trust boundary of the vault itself.
func (v *Vault) Snapshot() ([]Account, []Tombstone) {
	accounts := make([]Account, len(v.payload.Accounts))
	copy(accounts, v.payload.Accounts)
	tombstones := make([]Tombstone, len(v.payload.Tombstones))
	copy(tombstones, v.payload.Tombstones)
	return accounts, tombstones
}

// ApplyRemote upserts accounts (as new or updated) and applies
// tombstones for ids deleted remotely, in a single save. It is used by
// the Sync Engine after a merge plan has been confirmed by the caller.
func (v *Vault) ApplyRemote(toAdd, autoUpdated []Account, remoteDeletions []Account) error {
	byID := make(map[string]int, len(v.payload.Accounts))
	for i, a := range v.payload.Accounts {
		byID[a.ID] = i
	}

	for _, a := range append(append([]Account{}, toAdd...), autoUpdated...) {
		if i, ok := byID[a.ID]; ok {
			v.payload.Accounts[i] = a
		} else {
			byID[a.ID] = len(v.payload.Accounts)
			v.payload.Accounts = append(v.payload.Accounts, a)
		}
	}

	for _, a := range remoteDeletions {
		if i, ok := byID[a.ID]; ok {
			v.payload.Accounts = append(v.payload.Accounts[:i], v.payload.Accounts[i+1:]...)
			v.payload.Tombstones = append(v.payload.Tombstones, Tombstone{ID: a.ID, DeletedAt: v.nowFunc().Unix()})
			rebuildIndex(byID, v.payload.Accounts)
		}
	}

	return v.save()
}

func rebuildIndex(byID map[string]int, accounts []Account) {
	for k := range byID {
		delete(byID, k)
	}
	for i, a := range accounts {
		byID[a.ID] = i
	}
}
