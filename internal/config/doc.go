// Package config loads, validates, and normalizes the TOML configuration
// for the catalog scraper. Policy parameters such as the fuzzy-match
// confidence threshold and the deactivation grace threshold live here so
// they stay tunable without code changes.
package config
