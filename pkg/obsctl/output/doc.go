// Package output renders obsctl results as tables, JSON or YAML.
package output
