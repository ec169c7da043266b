package blobstore

import (
	"mime"
	"path/filepath"
	"strings"
)

// ObjectKey builds the object name for content with the given hash that was
// first uploaded as fileName.
func ObjectKey(hash, fileName string) string {
	return hash + "/" + filepath.Base(fileName)
}

// HashFromKey returns the hash segment of an object key, or "" when key
// is not shaped "{hex digest}/{name}". Keys written by anything else in a
// shared bucket fail this check.
func HashFromKey(key string) string {
	hash, name, ok := strings.Cut(key, "/")
	if !ok || name == "" || strings.Contains(name, "/") || !isDigest(hash) {
		return ""
	}
	return hash
}

func isDigest(s string) bool {
	if len(s) < 32 || len(s) > 128 || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

var contentTypes = map[string]string{
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".zip":  "application/zip",
	".rar":  "application/x-rar-compressed",
	".7z":   "application/x-7z-compressed",
}

// DefaultContentType is used for unknown extensions.
const DefaultContentType = "application/octet-stream"

// ContentType maps a file extension (with dot, any case) to a MIME type.
// The table above wins over the system MIME database.
func ContentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ext == "" {
		return DefaultContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultContentType
}
