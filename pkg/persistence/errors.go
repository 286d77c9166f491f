package persistence

import "github.com/wilhg/persist/pkg/errmodel"

// Sentinels for errors.Is. Concrete errors carry context; these only carry
// category and code.
var (
	ErrInvalidIdentity = errmodel.Sentinel(errmodel.CategoryValidation, errmodel.CodeInvalidIdentity)
	ErrMissingStore    = errmodel.Sentinel(errmodel.CategoryConfiguration, errmodel.CodeMissingStore)
	ErrInvalidConfig   = errmodel.Sentinel(errmodel.CategoryConfiguration, errmodel.CodeInvalidConfig)
	ErrInvalidEffect   = errmodel.Sentinel(errmodel.CategoryValidation, errmodel.CodeInvalidEffect)
	ErrStopped         = errmodel.Sentinel(errmodel.CategoryValidation, errmodel.CodeStopped)
)

// MissingStore reports an engine built without a required store.
func MissingStore(id ID, store string) error {
	return errmodel.Configuration(errmodel.CodeMissingStore, store+" is required", map[string]any{
		"persistence_id": id.String(),
	})
}

// InvalidConfig reports an engine built with an unusable configuration.
func InvalidConfig(id ID, msg string) error {
	return errmodel.Configuration(errmodel.CodeInvalidConfig, msg, map[string]any{
		"persistence_id": id.String(),
	})
}

// InvalidEffect reports an effect the engine cannot interpret.
func InvalidEffect(id ID, msg string) error {
	return errmodel.Validation(errmodel.CodeInvalidEffect, msg, map[string]any{
		"persistence_id": id.String(),
	})
}

// Stopped reports a command delivered to an instance that already stopped.
func Stopped(id ID) error {
	return errmodel.Validation(errmodel.CodeStopped, "instance is stopped", map[string]any{
		"persistence_id": id.String(),
	})
}
