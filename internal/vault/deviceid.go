package vault

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// loadOrCreateDeviceID reads the plaintext device_id blob (§6.2),
// generating and persisting one on first run. It is plaintext and
// carries no secret content, stored alongside the vault file so it is
// readable without unlocking the Master Key (the Sync Engine needs it
// to advertise and to key sync_history before any vault operation).
func loadOrCreateDeviceID(dir string) (string, error) {
	path := filepath.Join(dir, "device_id")
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
