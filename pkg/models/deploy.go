package models

type DeployActionType string

const (
	DeployNoop     DeployActionType = "noop"
	DeployPush     DeployActionType = "push"
	DeployPull     DeployActionType = "pull"
	DeployConflict DeployActionType = "conflict"
)

// DeployAction is the per-file decision of a publication. It is derived on
// demand and never persisted.
type DeployAction struct {
	Filename     string           `json:"filename"`
	Type         DeployActionType `json:"type"`
	LocalSHA256  string           `json:"local_sha256,omitempty"`
	RemoteSHA256 string           `json:"remote_sha256,omitempty"`
	Size         int64            `json:"size,omitempty"`
}

// Transferable reports whether local and remote copies differ.
func (a DeployAction) Transferable() bool {
	return a.LocalSHA256 != a.RemoteSHA256
}

// PendingFile is a locally edited application file awaiting publication.
type PendingFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Blob     []byte `json:"blob"`
}
