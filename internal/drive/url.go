package drive

import (
	"fmt"
	"net/url"
	"strings"
)

// ExtractID pulls the file or folder ID out of a Google Drive URL. Handles
// the common shared-link forms:
//
//	https://drive.google.com/file/d/<id>/view
//	https://drive.google.com/open?id=<id>
//	https://drive.google.com/drive/folders/<id>
//	https://drive.google.com/drive/u/1/folders/<id>
//	https://drive.google.com/uc?id=<id>
//	https://drive.google.com/viewer?srcid=<id>
//
// A bare ID (no scheme, no slashes) is returned unchanged.
func ExtractID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty drive URL")
	}

	if !strings.Contains(rawURL, "drive.google.com") {
		if !strings.ContainsAny(rawURL, "/?&= ") {
			return rawURL, nil
		}
		return "", fmt.Errorf("not a google drive URL: %s", rawURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid drive URL: %w", err)
	}

	if id := pathSegmentAfter(parsed.Path, "d"); id != "" {
		return id, nil
	}
	if id := pathSegmentAfter(parsed.Path, "folders"); id != "" {
		return id, nil
	}

	query := parsed.Query()
	if id := query.Get("id"); id != "" {
		return id, nil
	}
	if id := query.Get("srcid"); id != "" {
		return id, nil
	}

	return "", fmt.Errorf("unrecognized drive URL format: %s", rawURL)
}

// pathSegmentAfter returns the path segment following the named one, or ""
// when the marker is absent or last.
func pathSegmentAfter(path, marker string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == marker && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}
