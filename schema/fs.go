package schema

// FSOp names one file system batch operation.
type FSOp string

const (
	FSReadText         FSOp = "read_text"
	FSReadBinary       FSOp = "read_binary"
	FSMetadata         FSOp = "metadata"
	FSExists           FSOp = "exists"
	FSIsFile           FSOp = "is_file"
	FSIsDirectory      FSOp = "is_directory"
	FSReadTextBatch    FSOp = "read_text_batch"
	FSReadBinaryBatch  FSOp = "read_binary_batch"
	FSMetadataBatch    FSOp = "metadata_batch"
	FSExistsBatch      FSOp = "exists_batch"
	FSIsFileBatch      FSOp = "is_file_batch"
	FSIsDirectoryBatch FSOp = "is_directory_batch"
)

// FSCommand is one entry of a batch. Batched ops take Paths.
type FSCommand struct {
	Op    FSOp     `json:"op" msgpack:"op"`
	Path  string   `json:"path,omitempty" msgpack:"path,omitempty"`
	Paths []string `json:"paths,omitempty" msgpack:"paths,omitempty"`
}

// FSBatchRequest is the body of fs_batch and fs_batch_msgpack.
type FSBatchRequest struct {
	Commands []FSCommand `json:"commands" msgpack:"commands"`
}

// FileMetadata describes a local path. Times are seconds since the epoch.
type FileMetadata struct {
	Path        string `json:"path" msgpack:"path"`
	Size        int64  `json:"size" msgpack:"size"`
	IsFile      bool   `json:"isFile" msgpack:"isFile"`
	IsDirectory bool   `json:"isDirectory" msgpack:"isDirectory"`
	IsSymlink   bool   `json:"isSymlink" msgpack:"isSymlink"`
	Readonly    bool   `json:"readonly" msgpack:"readonly"`
	Permissions uint32 `json:"permissions" msgpack:"permissions"`
	Modified    int64  `json:"modified" msgpack:"modified"`
}

// FSResult is the outcome of one command. Exactly one payload field is set
// on success; batched ops fill Results in path order.
type FSResult struct {
	Op       FSOp          `json:"op" msgpack:"op"`
	Path     string        `json:"path,omitempty" msgpack:"path,omitempty"`
	Ok       bool          `json:"ok" msgpack:"ok"`
	Cached   bool          `json:"cached" msgpack:"cached"`
	Text     *string       `json:"text,omitempty" msgpack:"text,omitempty"`
	Base64   *string       `json:"base64,omitempty" msgpack:"base64,omitempty"`
	Metadata *FileMetadata `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Value    *bool         `json:"value,omitempty" msgpack:"value,omitempty"`
	Results  []FSResult    `json:"results,omitempty" msgpack:"results,omitempty"`
	Error    *WireError    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// FSBatchResponse lists results in command order.
type FSBatchResponse struct {
	Results []FSResult `json:"results" msgpack:"results"`
}

// DirEntry describes one local directory entry.
type DirEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
	IsSymlink   bool   `json:"isSymlink"`
	Size        int64  `json:"size"`
	Modified    int64  `json:"modified"`
}

// FSCacheStats reports cache occupancy.
type FSCacheStats struct {
	Contents    int      `json:"contents"`
	Metadata    int      `json:"metadata"`
	Existence   int      `json:"existence"`
	Invalidated int      `json:"invalidated"`
	Watches     []string `json:"watches"`
}
