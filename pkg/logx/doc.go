// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a logx.Logger by value and never touch zerolog
// directly; the Field helpers keep call sites close to slog ergonomics
// while the console writer renders key=value pairs and the optional file
// sink keeps structured JSON lines.
//
// The zero value is a safe no-op logger.
package logx
