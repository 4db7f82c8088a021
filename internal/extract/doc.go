// Package extract defines the record contract between the external source
// extractor and the ingestion pipeline. The HTML extraction itself lives
// outside this module; ingestion only depends on the Extractor interface.
package extract
