// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a stable,
// hot-reloadable handle: the Service owns the configured sinks
// (console, file, operator notify) and can swap them at runtime via
// Apply() without invalidating loggers already handed out.
package logx
