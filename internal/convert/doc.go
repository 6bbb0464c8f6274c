// Package convert implements the batch image conversion pipeline.
//
// A Coordinator admits a batch of SourceItems, runs one item pipeline per
// admitted file concurrently and merges completed ResultRecords back in
// submission order. Each item moves pending -> processing -> completed|error:
// probe the real content format, normalise camera-native formats, search a
// compression quality that fits the size budget, re-encode to the output
// format, reserve a unique output name and store the bytes behind a handle.
//
// Output names are unique for the lifetime of the Coordinator's result set
// (until Discard), so an archive of all completed results never contains
// duplicate entries.
package convert
