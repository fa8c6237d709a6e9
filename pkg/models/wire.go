package models

// UploadFragment is a fragment as posted to records/save; values and tags
// travel as serialized JSON strings.
type UploadFragment struct {
	Type  FragmentType `json:"type"`
	MTime string       `json:"mtime"` // ISO-8601
	FS    int64        `json:"fs"`
	Page  string       `json:"page"`
	JSON  string       `json:"json"`
	Tags  string       `json:"tags"`
}

// UploadRecord is one entry of the records/save body.
type UploadRecord struct {
	Form      string           `json:"form"`
	ULID      string           `json:"ulid"`
	HID       *string          `json:"hid"`
	Parent    *ParentRef       `json:"parent"`
	Fragments []UploadFragment `json:"fragments"`
}

// DownloadFragment is a fragment as returned by records/load.
type DownloadFragment struct {
	Anchor   int64          `json:"anchor"`
	Type     FragmentType   `json:"type"`
	Username string         `json:"username"`
	MTime    string         `json:"mtime"`
	FS       int64          `json:"fs"`
	Page     string         `json:"page"`
	Values   map[string]any `json:"values"`
	Tags     []string       `json:"tags"`
}

// DownloadRecord is one entry of the records/load response.
type DownloadRecord struct {
	ULID      string             `json:"ulid"`
	HID       *string            `json:"hid"`
	Form      string             `json:"form"`
	Parent    *ParentRef         `json:"parent"`
	Anchor    int64              `json:"anchor"`
	Fragments []DownloadFragment `json:"fragments"`
}

// FileInfo is one entry of the published manifest.
type FileInfo struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

// FileList is the files/list response; Version is the published bundle it describes.
type FileList struct {
	Version int64      `json:"version,omitempty"`
	Files   []FileInfo `json:"files"`
}

// PublishResult is the files/publish response.
type PublishResult struct {
	Version int64 `json:"version"`
}
