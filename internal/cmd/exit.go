package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/pagegate/pagegate/internal/core"
	apperrors "github.com/pagegate/pagegate/internal/errors"
	"github.com/pagegate/pagegate/internal/observability"
)

// Exit terminates a failed command with the exit code its error calls for.
func Exit(err error) {
	ExitWithCode(observability.Logger(), exitCodeFor(err), "Command failed", err)
}

func exitCodeFor(err error) foundry.ExitCode {
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope.Code == apperrors.CodeConfigInvalid {
		return foundry.ExitConfigInvalid
	}
	return foundry.ExitFailure
}

// ExitWithCode logs err with the foundry exit code metadata and exits. logger may be
// nil before logging is initialised.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger != nil {
		fields := []zap.Field{
			zap.Int("exit_code", info.Code),
			zap.String("exit_name", info.Name),
			zap.String("exit_description", info.Description),
			zap.String("exit_category", info.Category),
		}

		if envelope, ok := err.(*errors.ErrorEnvelope); ok {
			fields = append(fields,
				zap.String("error_code", envelope.Code),
				zap.String("error_message", envelope.Message),
				zap.String("correlation_id", envelope.CorrelationID),
				zap.String("trace_id", envelope.TraceID),
			)
			if envelope.Context != nil {
				fields = append(fields, zap.Any("error_context", envelope.Context))
			}
			if envelope.Original != nil {
				if originalErr, ok := envelope.Original.(error); ok {
					err = originalErr
				}
			}
		}

		if gwErr, ok := core.AsError(err); ok {
			fields = append(fields,
				zap.String("error_kind", string(gwErr.Kind)),
				zap.Int("upstream_status", gwErr.StatusCode))
			if gwErr.Kind == core.ErrorKindRateLimit {
				fields = append(fields, zap.Int("retry_after_seconds", gwErr.RetryAfterSeconds()))
			}
		}

		fields = append(fields, zap.Error(err))
		logger.Error(msg, fields...)
	} else {
		if err != nil {
			if envelope, ok := err.(*errors.ErrorEnvelope); ok {
				fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s, trace: %s)\n",
					msg, envelope.Code, envelope.Message, envelope.CorrelationID, envelope.TraceID)
				if envelope.Original != nil {
					if originalErr, ok := envelope.Original.(error); ok {
						fmt.Fprintf(os.Stderr, "Underlying error: %v\n", originalErr)
					}
				}
			} else {
				fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		}
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	}

	os.Exit(info.Code)
}
