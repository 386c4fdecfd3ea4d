// Package configs embeds the configuration template written by
// `indexify config init`.
//
// The template documents every key that internal/config understands. Keep it
// in sync with config.NewConfig; a test loads it and validates the result.
package configs

import _ "embed"

// ConfigTemplate is the commented indexify.yaml template.
//
//go:embed indexify.example.yaml
var ConfigTemplate string
