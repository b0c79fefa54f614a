package privilege

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRoot(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, IsRoot())
}

func TestIsRunningUnderSudo(t *testing.T) {
	tests := []struct {
		name     string
		sudoUser string
		wantSudo bool
	}{
		{name: "not running under sudo", sudoUser: "", wantSudo: false},
		{name: "running under sudo", sudoUser: "testuser", wantSudo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SUDO_USER", tt.sudoUser)
			assert.Equal(t, tt.wantSudo, IsRunningUnderSudo())
		})
	}
}

func TestDetectOriginalUser(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		uid     string
		gid     string
		wantErr bool
		wantUID int
	}{
		{name: "sudo with ids", user: "bench", uid: "1001", gid: "1002", wantUID: 1001},
		{name: "missing gid", user: "bench", uid: "1001", wantErr: true},
		{name: "invalid uid", user: "bench", uid: "abc", gid: "1002", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SUDO_USER", tt.user)
			t.Setenv("SUDO_UID", tt.uid)
			t.Setenv("SUDO_GID", tt.gid)

			ctx, err := DetectOriginalUser()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, ctx.Username)
			assert.Equal(t, tt.wantUID, ctx.UID)
			assert.Equal(t, 1002, ctx.GID)
		})
	}
}

func TestDetectOriginalUser_NoSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "")

	ctx, err := DetectOriginalUser()
	require.NoError(t, err)
	assert.Equal(t, os.Getuid(), ctx.UID)
}

func TestHandOff_AppliesModes(t *testing.T) {
	t.Setenv("SUDO_USER", "")

	root := t.TempDir()
	sub := filepath.Join(root, "results")
	require.NoError(t, os.MkdirAll(sub, 0o700))
	file := filepath.Join(sub, "iostat_output.log")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	require.NoError(t, HandOff(root, 0o755, 0o644))

	info, err := os.Stat(sub)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestHandOff_MissingRoot(t *testing.T) {
	err := HandOff(filepath.Join(t.TempDir(), "absent"), 0o755, 0o644)
	require.Error(t, err)
}
