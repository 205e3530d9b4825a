// Package logger builds the application's structured slog logger: JSON
// output in prod, text elsewhere, writing to the destination the caller
// supplies.
package logger
