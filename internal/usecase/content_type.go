package usecase

import (
	"path"
	"strings"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ogg":  "video/ogg",
	".ogv":  "video/ogg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".srt":  "text/plain",
	".vtt":  "text/vtt",
}

// ContentTypeFor maps a file path to a content type by extension.
func ContentTypeFor(filePath string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(filePath))]; ok {
		return ct
	}
	return "application/octet-stream"
}
