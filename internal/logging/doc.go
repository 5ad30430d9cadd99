// Package logging configures structured logging for indexhelper.
//
// By default only warnings and errors go to stderr. With --debug, JSON logs
// at debug level are also written to ~/.indexhelper/logs/indexhelper.log and
// rotated by size.
package logging
