// Package logging constructs the slog loggers used across the scraper and
// exposes typed attribute helpers plus standardized field keys so that
// subsystems emit consistent structured output.
package logging
