package keys

import (
	"fmt"
	"time"
)

func GenRecordKey(ns, ulid string) string {
	return fmt.Sprintf(RecordKey, ns, ulid)
}

func GenRecordPrefix(ns string) string {
	return fmt.Sprintf(RecordPrefix, ns)
}

func GenTagKey(ulid string) string {
	return fmt.Sprintf(TagKey, ulid)
}

func GenPendingFileKey(userID int64, filename string) string {
	return fmt.Sprintf(PendingFileKey, userID, filename)
}

func GenPendingFilePrefix(userID int64) string {
	return fmt.Sprintf(PendingFilePrefix, userID)
}

// index entries
func GenIndexEntry(index, value, primary string) string {
	return fmt.Sprintf(IndexEntry, index, value, primary)
}

func GenIndexPrefix(index, valuePrefix string) string {
	return fmt.Sprintf(IndexPrefix, index, valuePrefix)
}

// GenIndexExact is the prefix matching entries whose value is exactly value.
func GenIndexExact(index, value string) string {
	return fmt.Sprintf(IndexPrefix, index, value) + "\x00"
}

// envelope values
func GenFormValue(ns, formKey string) string {
	return fmt.Sprintf(FormValue, ns, formKey)
}

func GenParentValue(ns, parentULID, formKey string, mtime time.Time) string {
	return fmt.Sprintf(ParentValue, ns, parentULID, formKey, PadTS(mtime.UnixMilli()))
}

func GenParentULIDPrefix(ns, parentULID string) string {
	return fmt.Sprintf(ParentULIDPrefix, ns, parentULID)
}

func GenParentFormPrefix(ns, parentULID, formKey string) string {
	return fmt.Sprintf(ParentFormPrefix, ns, parentULID, formKey)
}

func GenAnchorValue(ns string, anchor int64) string {
	return fmt.Sprintf(AnchorValue, ns, PadAnchor(anchor))
}

func GenAnchorValuePrefix(ns string) string {
	return fmt.Sprintf(AnchorValuePrefix, ns)
}

// padding
func PadTS(ts int64) string {
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadAnchor(anchor int64) string {
	return fmt.Sprintf("%0*d", AnchorPadWidth, anchor)
}
