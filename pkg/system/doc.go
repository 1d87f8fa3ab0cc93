// Package system provides process-level helpers shared by the library packages
// and the obsctl CLI, most notably zap logger construction.
package system
