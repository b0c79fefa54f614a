// Package privilege handles running the profiler under sudo: detecting the
// invoking user and handing the session results back to them.
package privilege

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// UserContext represents the identity of the original user when running under
// privilege escalation.
type UserContext struct {
	Username string
	UID      int
	GID      int
	HomeDir  string
}

// DetectOriginalUser extracts user identity, accounting for sudo execution.
// When running under sudo, it returns the original user's context from
// SUDO_USER/SUDO_UID/SUDO_GID environment variables. Otherwise, returns the
// current user's context.
func DetectOriginalUser() (*UserContext, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return getCurrentUser()
	}

	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_UID: %w", err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	ctx := &UserContext{Username: sudoUser, UID: uid, GID: gid}
	if u, err := user.Lookup(sudoUser); err == nil {
		ctx.HomeDir = u.HomeDir
	}
	return ctx, nil
}

// getCurrentUser returns the context for the current user.
func getCurrentUser() (*UserContext, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return &UserContext{
		Username: u.Username,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  u.HomeDir,
	}, nil
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// IsRunningUnderSudo checks if the process is running under sudo by checking
// for the SUDO_USER environment variable.
func IsRunningUnderSudo() bool {
	return os.Getenv("SUDO_USER") != ""
}

// HandOff makes the session output usable by whoever runs the next step.
// Directories below root get dirMode, regular files get fileMode and, when
// running as root under sudo, everything is chowned to the invoking user.
// A zero mode leaves permissions untouched. Errors on individual entries are
// collected and the walk continues.
func HandOff(root string, dirMode, fileMode fs.FileMode) error {
	var owner *UserContext
	if IsRoot() && IsRunningUnderSudo() {
		u, err := DetectOriginalUser()
		if err != nil {
			return fmt.Errorf("failed to detect original user: %w", err)
		}
		owner = u
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			record(err)
			return nil
		}

		switch {
		case d.IsDir() && dirMode != 0:
			record(os.Chmod(path, dirMode))
		case d.Type().IsRegular() && fileMode != 0:
			record(os.Chmod(path, fileMode))
		}

		if owner != nil {
			if err := os.Lchown(path, owner.UID, owner.GID); err != nil {
				record(fmt.Errorf("failed to chown %s to %d:%d: %w", path, owner.UID, owner.GID, err))
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return firstErr
}
