package bridge

import (
	"context"
	"io"

	"github.com/rexliu/vsockpep/pkg/client"
	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/retry"
)

// RunConfigured is Run with a single-attempt client built from cfg. cfgErr
// is the error from resolving cfg, if any; like a journal problem it is
// reported inside the output object rather than suppressing it.
func RunConfigured(ctx context.Context, cfg *config.Config, cfgErr error, in io.Reader, out io.Writer, logger *logging.Logger) error {
	if cfgErr != nil {
		logger.Errorw("config unusable", "error", cfgErr)
		return Run(ctx, in, out, unconfigured{cfgErr})
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		logger.Warnw("logging config ignored", "error", err)
	}

	c, closeJournal, err := client.FromConfig(ctx, cfg, retry.Once(), logger, "bridge")
	if err != nil {
		logger.Warnw("journal disabled", "error", err)
		noJournal := *cfg
		noJournal.Journal.Path = ""
		c, closeJournal, _ = client.FromConfig(ctx, &noJournal, retry.Once(), logger, "bridge")
	}
	defer closeJournal()

	return Run(ctx, in, out, c)
}

// unconfigured fails every fetch with the configuration error.
type unconfigured struct{ err error }

func (u unconfigured) Fetch(context.Context, core.WireRequest) (*client.Result, error) {
	return nil, core.Wrap(core.KindConnect, "load config", u.err)
}
