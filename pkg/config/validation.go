package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittolock/internal/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors.
//
// Struct tags cover ranges and enumerations; cross-field rules that tags
// cannot express are checked afterwards. The error lists every failing
// field, e.g. "Config.Logging.Level failed on 'oneof' (got "TRACE")".
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if _, ok := logger.ParseLevel(cfg.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if cfg.Lock.DeadlockDetection && cfg.Lock.DeadlockCheckInterval <= 0 {
		return fmt.Errorf("lock.deadlock_check_interval must be positive when deadlock detection is enabled")
	}

	if cfg.Workload.Operations == 0 && cfg.Workload.Duration == 0 {
		return fmt.Errorf("workload: operations or duration must be set")
	}

	return nil
}
