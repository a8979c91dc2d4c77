// Package configs provides the embedded configuration template for
// crsync.
//
// The template is embedded at build time so 'crsync config init' can
// write a documented starting point regardless of how the binary was
// installed. Defaults live in internal/config; this file is the
// annotated example shown to operators.
package configs

import _ "embed"

// ExampleConfig is the annotated example configuration.
//
//go:embed crsync.example.yaml
var ExampleConfig []byte
