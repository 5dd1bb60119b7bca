package common

// Query and form field names shared by the gateway and the CLI client.
const (
	UserIDField = "user_id"
	TokenField  = "token"
	FilesField  = "files"
)

// Artifact file extensions.
const (
	PrimaryExt = ".dng"
	PreviewExt = ".jpg"
)

// AllowedRawExtensions lists the upload extensions accepted by the gateway,
// lower-cased and including the leading dot.
var AllowedRawExtensions = []string{".raw", ".cr2", ".cr3", ".nef", ".arw", ".orf", ".rw2", ".raf"}
