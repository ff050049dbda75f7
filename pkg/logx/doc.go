// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components can take a Logger value (zero value is a safe
// no-op) without caring where output goes. The Service owns the sinks and
// can re-apply configuration at runtime; Loggers derived from it stay live
// across Apply() calls.
package logx
