package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// NewAuditLogger returns a JSON logger appending stage failures to path.
// An empty path yields a no-op logger.
func NewAuditLogger(path string) (*zap.Logger, error) {
	if path == "" {
		return zap.NewNop(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open failure log %s", path)
	}
	return logger.Named("audit"), nil
}
