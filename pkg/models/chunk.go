package models

import (
	"path/filepath"
	"strings"
)

// ToolStatus tracks a tool invocation through its lifecycle.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// ToolUse describes one tool invocation inside an agent turn.
type ToolUse struct {
	ID     string         `json:"tool_use_id,omitempty"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Status ToolStatus     `json:"status"`
	Result string         `json:"result,omitempty"`
}

// FileType is the coarse taxonomy used when describing attachments to a
// model and when reporting files produced by an agent.
type FileType string

const (
	FileImage    FileType = "image"
	FileDocument FileType = "document"
	FileCode     FileType = "code"
	FileData     FileType = "data"
	FileOther    FileType = "other"
)

// FileRef points at a file attached to a message or produced by a tool.
type FileRef struct {
	Path     string   `json:"path"`
	Type     FileType `json:"type"`
	Language string   `json:"language,omitempty"`
}

// Chunk is the normalized streaming unit every execution path emits.
// Exactly one payload field is set per chunk except Metadata, which may
// accompany a terminal chunk.
type Chunk struct {
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ToolUse  *ToolUse       `json:"tool_use,omitempty"`
	Files    []FileRef      `json:"files,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var codeLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".cpp":  "cpp",
	".sh":   "bash",
	".sql":  "sql",
	".html": "html",
	".css":  "css",
}

var fileTypesByExt = map[string]FileType{
	".png":  FileImage,
	".jpg":  FileImage,
	".jpeg": FileImage,
	".gif":  FileImage,
	".webp": FileImage,
	".svg":  FileImage,
	".pdf":  FileDocument,
	".doc":  FileDocument,
	".docx": FileDocument,
	".txt":  FileDocument,
	".md":   FileDocument,
	".csv":  FileData,
	".json": FileData,
	".xml":  FileData,
	".yaml": FileData,
	".yml":  FileData,
	".xlsx": FileData,
}

// ClassifyFile builds a FileRef for a path, inferring type and, for
// code files, the language from the extension.
func ClassifyFile(path string) FileRef {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := codeLanguages[ext]; ok {
		return FileRef{Path: path, Type: FileCode, Language: lang}
	}
	if ft, ok := fileTypesByExt[ext]; ok {
		return FileRef{Path: path, Type: ft}
	}
	return FileRef{Path: path, Type: FileOther}
}
