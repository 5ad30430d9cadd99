// Package configs embeds the configuration template written by
// `indexhelper config init`.
package configs

import _ "embed"

// ConfigTemplate is a commented configuration file holding the defaults.
//
//go:embed config.example.yaml
var ConfigTemplate string
