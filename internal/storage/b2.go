// Package storage uploads media to Backblaze B2 over its native HTTP API:
// authorize, fetch an upload URL, then a single-call file upload with a
// SHA1 checksum. Auth state is cached per client; an expired upload token
// is refreshed and retried once.
package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
)

// DefaultAPIURL is the production authorize endpoint.
const DefaultAPIURL = "https://api.backblazeb2.com"

// ErrAuth marks credential failures: wrong key id or application key.
// Fatal for the whole job, never retried.
var ErrAuth = errors.New("storage: authentication failed")

// ErrRateLimited marks 429/503 throttling from B2. Retried after the long
// rate-limit delay.
var ErrRateLimited = errors.New("storage: rate limited")

// errExpiredToken marks an upload token that aged out mid-run. Handled
// internally by re-authorizing once.
var errExpiredToken = errors.New("storage: upload token expired")

// Config carries B2 credentials and bucket coordinates. APIURL overrides
// the authorize endpoint (tests point it at a local server).
type Config struct {
	KeyID      string
	AppKey     string
	BucketID   string
	BucketName string
	APIURL     string
}

// UploadResult describes one stored object.
type UploadResult struct {
	StorageKey string
	PublicURL  string
	SizeBytes  int64
}

// B2Client is safe for concurrent use; workers share one client and its
// cached authorization.
type B2Client struct {
	cfg  Config
	http *http.Client

	mu   sync.Mutex
	auth *authState
}

type authState struct {
	AccountID   string `json:"accountId"`
	Token       string `json:"authorizationToken"`
	APIURL      string `json:"apiUrl"`
	DownloadURL string `json:"downloadUrl"`
}

type uploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	Token     string `json:"authorizationToken"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewB2Client builds a client from cfg. No network traffic happens until
// the first call.
func NewB2Client(cfg Config) *B2Client {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	return &B2Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// CheckAuth verifies the credentials by authorizing, refreshing any cached
// state. Used by doctor.
func (c *B2Client) CheckAuth(ctx context.Context) error {
	_, err := c.authorize(ctx, true)
	return err
}

// Upload stores the file at localPath under key and returns its public
// download URL. An expired upload token triggers one re-authorize and one
// retry; other failures are returned classified.
func (c *B2Client) Upload(ctx context.Context, localPath, key string) (UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer f.Close()

	hash := sha1.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return UploadResult{}, fmt.Errorf("storage: hash %s: %w", localPath, err)
	}
	sha1Hex := hex.EncodeToString(hash.Sum(nil))

	for attempt := 0; ; attempt++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return UploadResult{}, fmt.Errorf("storage: rewind %s: %w", localPath, err)
		}

		auth, err := c.authorize(ctx, attempt > 0)
		if err != nil {
			return UploadResult{}, err
		}
		target, err := c.getUploadURL(ctx, auth)
		if err == nil {
			err = c.uploadFile(ctx, target, f, size, sha1Hex, key)
		}
		if err != nil {
			if errors.Is(err, errExpiredToken) && attempt == 0 {
				continue
			}
			return UploadResult{}, err
		}

		return UploadResult{
			StorageKey: key,
			PublicURL:  auth.DownloadURL + "/file/" + c.cfg.BucketName + "/" + encodeFileName(key),
			SizeBytes:  size,
		}, nil
	}
}

// authorize returns cached auth state, or fetches fresh state when none is
// cached or refresh is set.
func (c *B2Client) authorize(ctx context.Context, refresh bool) (*authState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auth != nil && !refresh {
		return c.auth, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.APIURL+"/b2api/v2/b2_authorize_account", nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build authorize request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.AppKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: authorize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
		}
		return nil, classifyStatus(resp.StatusCode, "authorize", apiErr)
	}

	var auth authState
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("storage: parse authorize response: %w", err)
	}
	c.auth = &auth
	return &auth, nil
}

func (c *B2Client) getUploadURL(ctx context.Context, auth *authState) (uploadTarget, error) {
	body, err := json.Marshal(map[string]string{"bucketId": c.cfg.BucketID})
	if err != nil {
		return uploadTarget{}, fmt.Errorf("storage: marshal upload url request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		auth.APIURL+"/b2api/v2/b2_get_upload_url", bytes.NewReader(body))
	if err != nil {
		return uploadTarget{}, fmt.Errorf("storage: build upload url request: %w", err)
	}
	req.Header.Set("Authorization", auth.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return uploadTarget{}, fmt.Errorf("storage: get upload url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			return uploadTarget{}, fmt.Errorf("%w: %s", errExpiredToken, apiErr.Message)
		}
		return uploadTarget{}, classifyStatus(resp.StatusCode, "get upload url", apiErr)
	}

	var target uploadTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return uploadTarget{}, fmt.Errorf("storage: parse upload url response: %w", err)
	}
	return target, nil
}

func (c *B2Client) uploadFile(ctx context.Context, target uploadTarget, f *os.File, size int64, sha1Hex, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, f)
	if err != nil {
		return fmt.Errorf("storage: build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", target.Token)
	req.Header.Set("X-Bz-File-Name", encodeFileName(key))
	req.Header.Set("Content-Type", "b2/x-auto")
	req.Header.Set("X-Bz-Content-Sha1", sha1Hex)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", errExpiredToken, apiErr.Message)
		}
		return classifyStatus(resp.StatusCode, "upload", apiErr)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func classifyStatus(status int, op string, apiErr apiError) error {
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Code
	}
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s status %d: %s", ErrRateLimited, op, status, msg)
	}
	return fmt.Errorf("storage: %s status %d: %s", op, status, msg)
}

// readAPIError drains a failed response into B2's error shape, tolerating
// non-JSON bodies.
func readAPIError(resp *http.Response) apiError {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiError{Status: resp.StatusCode}
	}
	var apiErr apiError
	if json.Unmarshal(data, &apiErr) != nil || apiErr.Message == "" && apiErr.Code == "" {
		return apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return apiErr
}

// encodeFileName percent-encodes an object key per B2 rules: each path
// segment escaped, slashes kept literal.
func encodeFileName(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
