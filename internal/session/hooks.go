package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const teardownTimeout = 2 * time.Minute

// runHook runs an environment command such as "docker compose up -d" and
// logs its output.
func runHook(ctx context.Context, name string, argv []string, dir string, logger zerolog.Logger) error {
	if len(argv) == 0 {
		return nil
	}
	logger = logger.With().Str("hook", name).Logger()
	logger.Info().Strs("args", argv).Msg("Running hook")

	//nolint:gosec // G204: Hook commands come from the session configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		logger.Debug().Msg(sc.Text())
	}
	if err != nil {
		return fmt.Errorf("%s hook %q failed: %w", name, argv[0], err)
	}
	return nil
}
