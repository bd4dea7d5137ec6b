package errors

// Convenience functions for common error patterns

// Profile lookup and state errors

func ProfileNotFound(name string) *AutobuildError {
	return New(CategoryNotFound, SeverityWarning, "profile not found").
		WithContext("profile", name)
}

func InvalidState(name, status, operation string) *AutobuildError {
	return New(CategoryState, SeverityWarning, "operation not allowed in current status").
		WithContext("profile", name).
		WithContext("status", status).
		WithContext("operation", operation)
}

func ValidationFailed(field, reason string) *AutobuildError {
	return New(CategoryValidation, SeverityWarning, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Process control errors

func SpawnFailed(name string, cause error) *AutobuildError {
	return Wrap(cause, CategorySpawn, SeverityError, "build process spawn failed").
		WithContext("profile", name)
}

func ProcessControlFailed(name string, pid int, cause error) *AutobuildError {
	return Wrap(cause, CategoryProcess, SeverityError, "failed to terminate build process tree").
		WithContext("profile", name).
		WithContext("pid", pid)
}

// Persistence errors

func StoreCorrupted(path string, cause error) *AutobuildError {
	return Wrap(cause, CategoryStorage, SeverityWarning, "profile store unreadable, resetting to empty").
		WithContext("path", path)
}

func StoreSaveFailed(path string, cause error) *AutobuildError {
	return Wrap(cause, CategoryStorage, SeverityError, "profile store save failed").
		WithContext("path", path)
}

// Watch errors

func WatchSetupFailed(name, path string, cause error) *AutobuildError {
	return Wrap(cause, CategoryWatch, SeverityWarning, "watcher setup failed").
		WithContext("profile", name).
		WithContext("path", path)
}

// Log retrieval errors

func LogUnavailable(name, reason string) *AutobuildError {
	return New(CategoryNotFound, SeverityWarning, "build log unavailable").
		WithContext("profile", name).
		WithContext("reason", reason)
}

// Config errors

func ConfigNotFound(path string) *AutobuildError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *AutobuildError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

// Internal errors

func InternalError(message string, cause error) *AutobuildError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
