// Package config loads, normalizes, and validates Reverie configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REVERIE_LLM_API_KEY. A .env file next to the config (or paths.env_file) is
// read as a lower-priority overlay so credentials can live outside the TOML.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
