package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the root logger for the given environment. Production uses the
// JSON encoder; everything else gets the development console encoder.
// Services derive named children via logger.Named(...).
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
