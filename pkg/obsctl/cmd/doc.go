// Package cmd implements the cobra command tree for the obsctl CLI:
// authentication through the auth facade, raw API calls over the retrying
// transport, configuration and shell completion.
package cmd
