package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugModeKey struct{}

// EnableDebugMode returns a context under which CDebugw logs regardless of the logger's level.
// Entries logged this way carry name in a "debug_mode" field; an empty name is replaced with a
// random one.
func EnableDebugMode(ctx context.Context, name string) context.Context {
	if name == "" {
		name = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugModeKey{}, name)
}

// IsDebugMode reports whether ctx has debug mode enabled.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the name given to EnableDebugMode, or "" if debug mode is off.
func GetName(ctx context.Context) string {
	name, _ := ctx.Value(debugModeKey{}).(string)
	return name
}
