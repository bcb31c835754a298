// Package drive lists and downloads photos from Google Drive folders. It
// works with a per-user OAuth access token and can fall back to an API key
// for publicly shared folders when token access is denied.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	listPageSize = 1000

	// DefaultMaxDepth bounds subfolder recursion during folder listing.
	DefaultMaxDepth = 10
)

// File is one entry from a Drive folder listing.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime string
}

// Client wraps the Drive API for a single user's token. The keyed service
// is only present when an API key was configured.
type Client struct {
	srv    *drive.Service
	keySrv *drive.Service
}

// NewClient creates a Drive client. accessToken is the user's OAuth token;
// an empty token builds an unauthenticated client (public folders only).
// apiKey, when set, enables the public-folder fallback on 403 responses.
// Extra options are passed through to the underlying services, which lets
// tests point the client at a mock server.
func NewClient(ctx context.Context, accessToken, apiKey string, extra ...option.ClientOption) (*Client, error) {
	authOpts := make([]option.ClientOption, 0, len(extra)+1)
	if accessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
		authOpts = append(authOpts, option.WithTokenSource(ts))
	} else {
		authOpts = append(authOpts, option.WithoutAuthentication())
	}
	authOpts = append(authOpts, extra...)

	srv, err := drive.NewService(ctx, authOpts...)
	if err != nil {
		return nil, fmt.Errorf("could not create drive service: %w", err)
	}
	c := &Client{srv: srv}

	if apiKey != "" {
		keyOpts := make([]option.ClientOption, 0, len(extra)+1)
		keyOpts = append(keyOpts, option.WithAPIKey(apiKey))
		keyOpts = append(keyOpts, extra...)
		keySrv, err := drive.NewService(ctx, keyOpts...)
		if err != nil {
			return nil, fmt.Errorf("could not create keyed drive service: %w", err)
		}
		c.keySrv = keySrv
	}
	return c, nil
}

// isForbidden reports whether the error is a 403 from the Drive API. Shared
// folders opened by link commonly reject the viewer's own token but allow
// keyed public access.
func isForbidden(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusForbidden
}

// ListFolder lists the files in a folder. With recursive set, subfolders
// are walked depth-first down to maxDepth levels (DefaultMaxDepth when
// maxDepth is zero or negative). Trashed files are excluded by the query.
func (c *Client) ListFolder(ctx context.Context, folderID string, recursive bool, maxDepth int) ([]File, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	files, err := listFolder(ctx, c.srv, folderID, recursive, 0, maxDepth)
	if err != nil && c.keySrv != nil && isForbidden(err) {
		return listFolder(ctx, c.keySrv, folderID, recursive, 0, maxDepth)
	}
	return files, err
}

func listFolder(ctx context.Context, srv *drive.Service, folderID string, recursive bool, depth, maxDepth int) ([]File, error) {
	if depth >= maxDepth {
		return nil, nil
	}

	var files []File
	var subfolders []string

	pageToken := ""
	for {
		call := srv.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed=false", folderID)).
			Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)").
			PageSize(listPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("could not list folder %s: %w", folderID, err)
		}

		for _, f := range result.Files {
			if f.MimeType == folderMimeType {
				subfolders = append(subfolders, f.Id)
				continue
			}
			files = append(files, File{
				ID:           f.Id,
				Name:         f.Name,
				MimeType:     f.MimeType,
				Size:         f.Size,
				ModifiedTime: f.ModifiedTime,
			})
		}

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if recursive {
		for _, id := range subfolders {
			sub, err := listFolder(ctx, srv, id, recursive, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// GetFile fetches metadata for a single file.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	f, err := getFile(ctx, c.srv, fileID)
	if err != nil && c.keySrv != nil && isForbidden(err) {
		return getFile(ctx, c.keySrv, fileID)
	}
	return f, err
}

func getFile(ctx context.Context, srv *drive.Service, fileID string) (*File, error) {
	f, err := srv.Files.Get(fileID).
		Fields("id, name, mimeType, size, modifiedTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("could not get file %s: %w", fileID, err)
	}
	return &File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
	}, nil
}

// Download streams a file's content. The caller owns the returned body.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	body, err := download(ctx, c.srv, fileID)
	if err != nil && c.keySrv != nil && isForbidden(err) {
		return download(ctx, c.keySrv, fileID)
	}
	return body, err
}

func download(ctx context.Context, srv *drive.Service, fileID string) (io.ReadCloser, error) {
	resp, err := srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("could not download file %s: %w", fileID, err)
	}
	return resp.Body, nil
}
