// Package domain models the records that flow from the API clients into the
// table store.
//
// # Tables
//
// A [Table] is a batch of rows with an explicit schema. Column types are
// string, float, int, bool and time; a value is either null (nil) or the Go
// type of its column. Clients declare their schemas in code and append rows
// through [Table.Append], which rejects values of the wrong type at the
// boundary instead of letting them reach the store.
//
// # Results
//
// A fetch returns a [Result]: the normalized rows, a metadata record per run
// and an error record per failed sub-request. Per-item failures are carried
// as [Outcome] values and folded into [Result.Errors] by [Collect], so one
// failing symbol or city never aborts the rest of the batch.
//
// # Partitioning
//
// The store splits Result.Data by a partition column. Rows are grouped by
// equality of the rendered value ([FormatValue]); clients set a "split_on"
// column to a ticker symbol, a city slug or a "date_YYYY_MM_DD" bucket.
//
// # String widths
//
// Stored tables encode strings at a fixed width chosen when the table is
// created. [EstimateMinWidth] sizes that width for one store call: the
// longest string across the data, metadata and error tables, and never less
// than [DefaultMinWidth].
//
// # Ports
//
// [Geocoder] and [Archiver] are the collaborators clients depend on; the
// adapters provide the OpenWeather geocoder and the raw payload archive.
package domain
