// Package api uploads finished match exports to a stats web service.
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ctfmode/extension/pkg/core"
)

// UploadPath is the endpoint match files are posted to.
const UploadPath = "/api/v1/matches"

// Client handles communication with the stats web service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the web service is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload sends an exported match file together with its metadata as a
// multipart form.
func (c *Client) Upload(filePath string, meta core.UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// the form is streamed while the request is sent
	errCh := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if cerr := writer.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
			errCh <- err
		}()

		fields := [][2]string{
			{"secret", c.apiKey},
			{"filename", filepath.Base(filePath)},
			{"mapName", meta.MapName},
			{"matchId", strconv.FormatUint(uint64(meta.MatchID), 10)},
			{"matchDuration", strconv.FormatFloat(meta.Duration.Seconds(), 'f', 0, 64)},
			{"tag", meta.Tag},
		}
		for _, f := range fields {
			if err = writer.WriteField(f[0], f[1]); err != nil {
				return
			}
		}

		var part io.Writer
		part, err = writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			err = fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err = io.Copy(part, file); err != nil {
			err = fmt.Errorf("failed to copy file: %w", err)
		}
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+UploadPath, pr)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// the server may answer before reading the whole form
		pr.Close()
		<-errCh
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}
	return nil
}
