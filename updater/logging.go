package updater

import "log"

// logg mirrors the original severity-character-prefixed logging convention:
// "!" error, "^" warning, "*" verbose, anything else informational. It is a
// pure side effect, kept deliberately separate from control flow: severity
// and error classification must never be conflated.
func logg(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func logError(format string, args ...interface{})   { logg("! "+format, args...) }
func logWarning(format string, args ...interface{}) { logg("^ "+format, args...) }
func logVerbose(format string, args ...interface{}) { logg("* "+format, args...) }
func logInfo(format string, args ...interface{})    { logg(format, args...) }

// verboseError returns logError when verbose is true, logWarning otherwise.
// It only ever changes how loudly a condition is logged, never what the
// caller does next.
func verboseError(verbose bool) func(format string, args ...interface{}) {
	if verbose {
		return logError
	}
	return logWarning
}
