package cli

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/grovetools/claims/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out
func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints a message tailored to the error code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration not found. Run 'claims config path' to see where claims.yml is read from.\n")

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "❌ Invalid configuration: %v\n", err)
		fmt.Fprintf(h.Out, "Run 'claims config schema' for the accepted format.\n")

	case errors.ErrCodeStoreUnavailable:
		fmt.Fprintf(h.Out, "❌ Session store unavailable: %v\n", err)
		fmt.Fprintf(h.Out, "Check store.driver and store.dsn in claims.yml.\n")

	case errors.ErrCodeSessionNotFound:
		fmt.Fprintf(h.Out, "❌ %v\n", err)

	case errors.ErrCodeClaimConflict:
		if details := detailsOf(err); details != nil {
			fmt.Fprintf(h.Out, "❌ %v is already claimed by session %v\n", details["workKey"], details["holder"])
			fmt.Fprintf(h.Out, "Run 'claims triangulate --sd %v' to check whether that claim is still live.\n", details["workKey"])
		} else {
			fmt.Fprintf(h.Out, "❌ %v\n", err)
		}

	case errors.ErrCodeLockHeld:
		if details := detailsOf(err); details != nil {
			fmt.Fprintf(h.Out, "❌ Another watcher (pid %v) is already running for this session\n", details["pid"])
		} else {
			fmt.Fprintf(h.Out, "❌ %v\n", err)
		}

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose {
		var claimErr *errors.ClaimError
		if stderrors.As(err, &claimErr) {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", claimErr.ToJSON())
		}
	}
	return err
}

func detailsOf(err error) map[string]interface{} {
	var claimErr *errors.ClaimError
	if stderrors.As(err, &claimErr) {
		return claimErr.Details
	}
	return nil
}
