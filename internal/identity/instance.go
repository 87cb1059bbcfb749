// Package identity provides a stable instance UUID per (clientID, env,
// process slot), surviving hot reloads that reuse the same PID. State
// lives in PID and UUID lock files under <tmp>/apitally/.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxSlots bounds how many concurrent processes per (clientID, env)
	// can hold distinct instance identities.
	MaxSlots = 100

	// maxUUIDAge is the retention window for uuid files; older ones are
	// swept and re-created.
	maxUUIDAge = 24 * time.Hour
)

var uuidPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// InstanceUUID returns the stable instance UUID for the given client ID
// and env. If the filesystem is unusable it falls back to a fresh random
// UUID for the life of the process.
func InstanceUUID(clientID, env string) string {
	dir := filepath.Join(os.TempDir(), "apitally")
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return uuid.NewString()
	}

	hash := hashKey(clientID, env)
	sweep(dir, hash)

	for slot := 0; slot < MaxSlots; slot++ {
		pidPath := slotPath(dir, hash, slot, "pid")
		uuidPath := slotPath(dir, hash, slot, "uuid")

		f, err := os.OpenFile(pidPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				return uuid.NewString()
			}
			return ensureUUIDFile(uuidPath)
		}
		if !errors.Is(err, fs.ErrExist) {
			return uuid.NewString()
		}

		// Slot taken. If it is held by this very process, the process was
		// hot-reloaded and the slot's uuid is reused.
		pid, ok := readPID(pidPath)
		if ok && pid == os.Getpid() {
			return ensureUUIDFile(uuidPath)
		}
	}

	return uuid.NewString()
}

// hashKey returns the first 8 hex chars of SHA-256 over "<clientID>:<env>".
func hashKey(clientID, env string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + env))
	return hex.EncodeToString(sum[:])[:8]
}

func slotPath(dir, hash string, slot int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("instance_%s_%d.%s", hash, slot, ext))
}

// sweep removes lock files that no longer represent a live identity:
// uuid files that are expired, invalid, or duplicates of a lower slot,
// and pid files whose process is not alive.
func sweep(dir, hash string) {
	seen := make(map[string]struct{})
	now := time.Now()

	for slot := 0; slot < MaxSlots; slot++ {
		uuidPath := slotPath(dir, hash, slot, "uuid")
		info, err := os.Stat(uuidPath)
		if err == nil {
			value, rerr := os.ReadFile(uuidPath)
			id := strings.TrimSpace(string(value))
			switch {
			case rerr != nil, !uuidPattern.MatchString(id):
				_ = os.Remove(uuidPath)
			case now.Sub(info.ModTime()) > maxUUIDAge:
				_ = os.Remove(uuidPath)
			default:
				if _, dup := seen[id]; dup {
					_ = os.Remove(uuidPath)
				} else {
					seen[id] = struct{}{}
				}
			}
		}

		pidPath := slotPath(dir, hash, slot, "pid")
		if pid, ok := readPID(pidPath); ok {
			if !processAlive(pid) {
				_ = os.Remove(pidPath)
			}
		} else if _, serr := os.Stat(pidPath); serr == nil {
			// Unreadable pid file cannot be claimed by anyone.
			_ = os.Remove(pidPath)
		}
	}
}

// ensureUUIDFile reuses the uuid file at path when present and valid, and
// writes a fresh random UUIDv4 otherwise.
func ensureUUIDFile(path string) string {
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if uuidPattern.MatchString(id) {
			return id
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return uuid.NewString()
	}
	return id
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes liveness with signal 0. EPERM means the process
// exists but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
