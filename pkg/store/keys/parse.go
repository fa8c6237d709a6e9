package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RecordParts struct {
	Namespace string
	ULID      string
}

// ParseRecordKey splits rec:<ns>:<ulid>.
func ParseRecordKey(key string) (RecordParts, error) {
	rest, ok := strings.CutPrefix(key, "rec:")
	if !ok {
		return RecordParts{}, fmt.Errorf("not a record key: %q", key)
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return RecordParts{}, fmt.Errorf("malformed record key: %q", key)
	}
	return RecordParts{Namespace: rest[:i], ULID: rest[i+1:]}, nil
}

type IndexParts struct {
	Index   string
	Value   string
	Primary string
}

// ParseIndexEntry splits idx:<index>:<value>\x00<primary>.
func ParseIndexEntry(key string) (IndexParts, error) {
	rest, ok := strings.CutPrefix(key, "idx:")
	if !ok {
		return IndexParts{}, fmt.Errorf("not an index key: %q", key)
	}
	i := strings.IndexByte(rest, ':')
	if i <= 0 {
		return IndexParts{}, fmt.Errorf("malformed index key: %q", key)
	}
	index := rest[:i]
	rest = rest[i+1:]
	j := strings.LastIndexByte(rest, 0)
	if j < 0 {
		return IndexParts{}, fmt.Errorf("index key without primary: %q", key)
	}
	return IndexParts{Index: index, Value: rest[:j], Primary: rest[j+1:]}, nil
}

type ParentParts struct {
	Namespace  string
	ParentULID string
	Form       string
	MTime      time.Time
}

// ParseParentValue splits <ns>:<parent_ulid>/<form_key>@<mtime_ms>. A missing
// or unreadable mtime leaves MTime zero.
func ParseParentValue(v string) (ParentParts, error) {
	slash := strings.IndexByte(v, '/')
	if slash < 0 {
		return ParentParts{}, fmt.Errorf("malformed parent value: %q", v)
	}
	head, tail := v[:slash], v[slash+1:]
	colon := strings.LastIndexByte(head, ':')
	if colon <= 0 {
		return ParentParts{}, fmt.Errorf("malformed parent value: %q", v)
	}
	p := ParentParts{Namespace: head[:colon], ParentULID: head[colon+1:], Form: tail}
	if at := strings.LastIndexByte(tail, '@'); at >= 0 {
		p.Form = tail[:at]
		if ms, err := strconv.ParseInt(tail[at+1:], 10, 64); err == nil && ms > 0 {
			p.MTime = time.UnixMilli(ms).UTC()
		}
	}
	return p, nil
}

// ParseAnchorValue extracts the number from <ns>@<anchor>.
func ParseAnchorValue(v string) (int64, error) {
	at := strings.LastIndexByte(v, '@')
	if at < 0 {
		return 0, fmt.Errorf("malformed anchor value: %q", v)
	}
	return strconv.ParseInt(v[at+1:], 10, 64)
}
