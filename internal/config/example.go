package config

import (
	_ "embed"
)

//go:embed example.yaml
var exampleConfig string

// Example returns an annotated configuration file documenting every setting
// and its default. It is what `relmedia config` prints.
func Example() string {
	return exampleConfig
}
