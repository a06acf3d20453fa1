// Package config loads, normalizes and validates the camera service
// configuration.
//
// Settings come from a TOML file layered over Default. Load expands user
// paths, lower-cases enumerations and reports the first invalid value, so
// callers receive a Config they can hand straight to the pipeline.
package config
