package drive

import (
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
}

// FilterImages keeps the files worth running face detection on, matched by
// extension or MIME type. macOS AppleDouble entries ("._name") carry
// resource forks, not pixels, and are dropped.
func FilterImages(files []File) []File {
	var images []File
	for _, f := range files {
		if strings.HasPrefix(f.Name, "._") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if imageExtensions[ext] || imageMimeTypes[strings.ToLower(f.MimeType)] {
			images = append(images, f)
		}
	}
	return images
}
