package types

import (
	"path/filepath"
	"strings"
)

// FileKind classifies an indexed file by its extension.
type FileKind string

const (
	KindUnknown  FileKind = "unknown"
	KindText     FileKind = "text"
	KindCode     FileKind = "code"
	KindDocument FileKind = "document"
	KindImage    FileKind = "image"
	KindAudio    FileKind = "audio"
	KindVideo    FileKind = "video"
	KindArchive  FileKind = "archive"
)

var extKinds = map[string]FileKind{
	".txt":  KindText,
	".md":   KindText,
	".rst":  KindText,
	".log":  KindText,
	".csv":  KindText,
	".json": KindText,
	".xml":  KindText,
	".yml":  KindText,
	".yaml": KindText,
	".toml": KindText,
	".ini":  KindText,

	".c":     KindCode,
	".h":     KindCode,
	".cpp":   KindCode,
	".hpp":   KindCode,
	".cc":    KindCode,
	".go":    KindCode,
	".py":    KindCode,
	".js":    KindCode,
	".ts":    KindCode,
	".rb":    KindCode,
	".rs":    KindCode,
	".java":  KindCode,
	".swift": KindCode,
	".kt":    KindCode,
	".sh":    KindCode,
	".html":  KindCode,
	".css":   KindCode,
	".sql":   KindCode,

	".pdf":  KindDocument,
	".doc":  KindDocument,
	".docx": KindDocument,
	".odt":  KindDocument,
	".rtf":  KindDocument,
	".ppt":  KindDocument,
	".pptx": KindDocument,
	".xls":  KindDocument,
	".xlsx": KindDocument,

	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".webp": KindImage,
	".tiff": KindImage,
	".tif":  KindImage,
	".heic": KindImage,
	".svg":  KindImage,

	".mp3":  KindAudio,
	".wav":  KindAudio,
	".flac": KindAudio,
	".ogg":  KindAudio,
	".m4a":  KindAudio,

	".mp4":  KindVideo,
	".mov":  KindVideo,
	".mkv":  KindVideo,
	".avi":  KindVideo,
	".webm": KindVideo,

	".zip": KindArchive,
	".tar": KindArchive,
	".gz":  KindArchive,
	".bz2": KindArchive,
	".xz":  KindArchive,
	".7z":  KindArchive,
	".rar": KindArchive,
}

// KindForPath derives a FileKind from the path's extension.
func KindForPath(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := extKinds[ext]; ok {
		return kind
	}
	return KindUnknown
}

// IsTextual reports whether files of this kind carry embeddable text content.
func (k FileKind) IsTextual() bool {
	switch k {
	case KindText, KindCode, KindDocument:
		return true
	}
	return false
}

// Valid reports whether k is one of the declared kinds.
func (k FileKind) Valid() bool {
	switch k {
	case KindUnknown, KindText, KindCode, KindDocument,
		KindImage, KindAudio, KindVideo, KindArchive:
		return true
	}
	return false
}
