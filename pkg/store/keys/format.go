package keys

const (
	// notation dictionary for key formats:
	// rec = record envelope
	// idx = secondary index entry
	// tag = latest tags of a record
	// fs  = pending application file
	// ns  = storage namespace
	// <...> = variable segment (e.g. <ns>, <ulid>)
	// index entries end with "\x00<primary key>" so that values sharing a
	// prefix never interleave with the primary part

	// primary storage key formats
	RecordKey      = "rec:%s:%s" // rec:<ns>:<ulid>
	TagKey         = "tag:%s"    // tag:<ulid>
	PendingFileKey = "fs:%d:%s"  // fs:<userid>:<filename>

	// prefixes
	RecordPrefix      = "rec:%s:" // rec:<ns>:
	PendingFilePrefix = "fs:%d:"  // fs:<userid>:

	// index entry formats
	IndexEntry  = "idx:%s:%s\x00%s" // idx:<index>:<value>\x00<primary>
	IndexPrefix = "idx:%s:%s"       // idx:<index>:<value prefix>

	// index names
	IndexForm   = "form"
	IndexParent = "parent"
	IndexAnchor = "anchor"
	IndexSync   = "sync"

	// envelope key values
	FormValue         = "%s/%s"       // <ns>/<form_key>
	ParentValue       = "%s:%s/%s@%s" // <ns>:<parent_ulid>/<form_key>@<mtime_ms>
	ParentULIDPrefix  = "%s:%s/"      // <ns>:<parent_ulid>/
	ParentFormPrefix  = "%s:%s/%s@"   // <ns>:<parent_ulid>/<form_key>@
	AnchorValue       = "%s@%s"       // <ns>@<anchor>
	AnchorValuePrefix = "%s@"         // <ns>@

	// index entry payloads
	LinkReal = "real"
	LinkFake = "fake"

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth     = 20 // e.g. %020d
	AnchorPadWidth = 16 // e.g. %016d

	// system keys
	MetaPrevAnchor = "meta:prev_anchor"
)
