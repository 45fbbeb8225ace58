// Package pagination holds the cursor arithmetic of page-granular import jobs.
//
// Upstream APIs list candidates page by page, while the import engine advances
// item by item in small batches. A job therefore stores its processed count and
// derives the in-page offset from it:
//
//	offset := pagination.Offset(processed, pageSize) // processed mod pageSize
//	page   := pagination.PageOf(processed, pageSize) // 1-based page of the next item
//
// When an upstream omits a total count, LastPage reads the RFC 5988 Link header
// (rel="last") so the total can be estimated as lastPage * pageSize.
package pagination
