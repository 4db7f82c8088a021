// Package services provides shared error classification used to map
// component failures onto scrape-run outcomes.
package services
