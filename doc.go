// Package anycsv opens CSV-like tables of unknown shape and reads them row by
// row.
//
// A table can come from a local file, a compressed local file, text held in
// memory, or an http(s) URL. Before any row is produced the package samples
// the first lines, works out the character encoding and the dialect (the
// delimiter and quote character), and checks the input against an optional
// size quota. Rows are then parsed lazily, one per call.
//
// # Opening a Table
//
//	t, err := anycsv.Open(ctx, anycsv.Input{Path: "exports/orders.csv.gz"},
//	    anycsv.WithMaxSize(64<<20),
//	    anycsv.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	for line, row := range t.Rows() {
//	    fmt.Println(line, row)
//	}
//	if err := t.Err(); err != nil {
//	    return err
//	}
//
// # Dialect Detection
//
// Every (delimiter, quote) pair from the candidate sets is scored by how many
// sampled records share the most common field count. A pair counts only when
// records have more than one field and a strict majority agree. Ties go to
// the earlier candidate: comma, tab, semicolon, pipe, then double quote
// before single quote. [WithDelimiter] overrides the result; when the
// override differs from what was detected a warning is logged and the
// override wins.
//
// # Encoding Detection
//
// A byte order mark wins. Otherwise valid UTF-8 is taken as UTF-8, then a
// statistical detector is consulted, then the charset declared by the HTTP
// response, and finally UTF-8 is assumed. [WithEncoding] skips detection.
//
// # Failures
//
// Size and delimiter problems fail [Open]. Network and decoding problems that
// happen later fail the read that hits them, and every read after it: a table
// is never returned with rows silently missing. All errors can be matched
// with [errors.Is] against the sentinels in this package.
package anycsv
