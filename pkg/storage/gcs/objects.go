package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const archivePrefix = "archive/"

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("gcs object not found")

// Get downloads the object stored at objectPath in the default bucket.
func (c *Client) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if strings.TrimSpace(objectPath) == "" {
		return nil, errors.New("object path is required")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s?alt=media",
		url.PathEscape(c.defaultBucket),
		url.PathEscape(objectPath),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcs get %q: %w", objectPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("gcs get %q: %w", objectPath, ErrObjectNotFound)
	default:
		return nil, fmt.Errorf("gcs get %q: %s", objectPath, resp.Status)
	}
}

// ArchivePathFor returns the archive namespace for a completed payload,
// bucketed by hour and project.
func ArchivePathFor(objectPath, projectID string, createdUTC time.Time) string {
	return fmt.Sprintf("%s%s/%s/%s",
		archivePrefix,
		createdUTC.UTC().Format("06/01/02/15"),
		projectID,
		path.Base(objectPath),
	)
}

// Archive moves a completed payload into the archive namespace. Objects that
// already live under the archive prefix are left alone.
func (c *Client) Archive(ctx context.Context, objectPath, projectID string, createdUTC time.Time) error {
	if strings.TrimSpace(objectPath) == "" {
		return errors.New("object path is required")
	}
	if strings.HasPrefix(objectPath, archivePrefix) {
		return nil
	}

	dest := ArchivePathFor(objectPath, projectID, createdUTC)
	if err := c.copyObject(ctx, objectPath, dest); err != nil {
		return err
	}
	return c.Delete(ctx, objectPath)
}

// Delete removes the object stored at objectPath. Deleting a missing object
// is not an error.
func (c *Client) Delete(ctx context.Context, objectPath string) error {
	if strings.TrimSpace(objectPath) == "" {
		return errors.New("object path is required")
	}
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s",
		url.PathEscape(c.defaultBucket),
		url.PathEscape(objectPath),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gcs delete %q: %w", objectPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("gcs delete %q: %s", objectPath, resp.Status)
	}
}

func (c *Client) copyObject(ctx context.Context, src, dest string) error {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s/copyTo/b/%s/o/%s",
		url.PathEscape(c.defaultBucket),
		url.PathEscape(src),
		url.PathEscape(c.defaultBucket),
		url.PathEscape(dest),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Length", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gcs copy %q -> %q: %w", src, dest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("gcs copy %q: %w", src, ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gcs copy %q -> %q: %s", src, dest, resp.Status)
	}
	return nil
}
