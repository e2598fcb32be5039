// Package merge implements the Merge Engine (§4.6): a pure function over
// two snapshots of accounts and tombstones that produces a MergePlan
// without applying it. The caller (Sync Engine) owns application.
package merge

// Account is the minimal shape the merge algorithm needs from a Vault
// Account: identity, modification time, and the value itself is carried
// through unchanged so callers can apply a plan without a second lookup.
type Account struct {
	ID           string
	LastModified int64
	Value        any
}

// Tombstone records that an account id was deleted at a point in time.
type Tombstone struct {
	ID        string
	DeletedAt int64
}

// Conflict pairs a local and remote account that both changed since the
// last sync with this peer, with no winner chosen by the engine itself.
type Conflict struct {
	Local  Account
	Remote Account
}

// Plan is the advisory output of Merge: the caller decides how to apply
// conflicts and whether to honor remote_deletions.
type Plan struct {
	ToAdd           []Account
	AutoUpdated     []Account
	Conflicts       []Conflict
	RemoteDeletions []Account
	Unchanged       int
}

// Merge evaluates the rules in spec order: per remote account first, then
// per remote tombstone. lastSyncWithPeer is the epoch of the last
// successful sync with this specific peer, or 0 if never synced.
func Merge(localAccounts []Account, localTombstones []Tombstone, remoteAccounts []Account, remoteTombstones []Tombstone, lastSyncWithPeer int64) Plan {
	var plan Plan

	localByID := make(map[string]Account, len(localAccounts))
	for _, a := range localAccounts {
		localByID[a.ID] = a
	}

	for _, remote := range remoteAccounts {
		lt, hasTombstone := lastTombstoneFor(remote.ID, localTombstones)
		if hasTombstone && lt >= remote.LastModified {
			plan.Unchanged++
			continue
		}

		local, ok := localByID[remote.ID]
		switch {
		case !ok:
			plan.ToAdd = append(plan.ToAdd, remote)
		case local.LastModified == remote.LastModified:
			plan.Unchanged++
		case lastSyncWithPeer > 0 && local.LastModified > lastSyncWithPeer && remote.LastModified > lastSyncWithPeer:
			plan.Conflicts = append(plan.Conflicts, Conflict{Local: local, Remote: remote})
		case remote.LastModified > local.LastModified:
			plan.AutoUpdated = append(plan.AutoUpdated, remote)
		default:
			plan.Unchanged++
		}
	}

	for _, rt := range remoteTombstones {
		local, ok := localByID[rt.ID]
		if ok && rt.DeletedAt > local.LastModified {
			plan.RemoteDeletions = append(plan.RemoteDeletions, local)
		}
	}

	return plan
}

func lastTombstoneFor(id string, tombstones []Tombstone) (int64, bool) {
	found := false
	var latest int64
	for _, t := range tombstones {
		if t.ID != id {
			continue
		}
		if !found || t.DeletedAt > latest {
			latest = t.DeletedAt
			found = true
		}
	}
	return latest, found
}
