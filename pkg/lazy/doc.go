// Package lazy implements deferred loading of large sub-objects. A blob
// field decodes to a Ref handle instead of its value; the backing file is
// read on the first Force call, and a missing or corrupt file surfaces as
// a BlobError on that call only, leaving the rest of the record usable.
package lazy
