package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fieldsync/pkg/models"
	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/telemetry"

	"github.com/valyala/fasthttp"
)

// Options tune a Client; zero values fall back to the defaults below.
type Options struct {
	SaveTimeout    time.Duration
	LoadTimeout    time.Duration
	FilesTimeout   time.Duration
	MaxUploadBytes int64
	UserAgent      string
	Username       string // sent as UserHeader
}

// UserHeader carries the session username on every request.
const UserHeader = "X-Fieldsync-User"

const (
	defaultSaveTimeout  = 30 * time.Second
	defaultLoadTimeout  = 120 * time.Second
	defaultFilesTimeout = 30 * time.Second
)

// Client speaks the records and files API of one instance.
type Client struct {
	instance string
	http     *fasthttp.Client
	opts     Options
}

// New returns a client for the instance rooted at instanceURL, for example
// "https://host/demo/".
func New(instanceURL string, opts Options) *Client {
	if !strings.HasSuffix(instanceURL, "/") {
		instanceURL += "/"
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.FilesTimeout <= 0 {
		opts.FilesTimeout = defaultFilesTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fieldsync"
	}
	return &Client{
		instance: instanceURL,
		opts:     opts,
		http: &fasthttp.Client{
			Name:                     opts.UserAgent,
			MaxIdleConnDuration:      30 * time.Second,
			NoDefaultUserAgentHeader: true,
		},
	}
}

// Instance returns the instance root URL.
func (c *Client) Instance() string { return c.instance }

// SaveRecords posts pending records, parents before children.
func (c *Client) SaveRecords(ctx context.Context, records []models.UploadRecord) error {
	body, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "records_save", fasthttp.MethodPost, "api/records/save", "application/json", body, c.opts.SaveTimeout)
	return err
}

// LoadRecords returns every record with fragments at or after anchor.
func (c *Client) LoadRecords(ctx context.Context, anchor int64) ([]models.DownloadRecord, error) {
	path := "api/records/load?anchor=" + strconv.FormatInt(anchor, 10)
	data, err := c.do(ctx, "records_load", fasthttp.MethodGet, path, "", nil, c.opts.LoadTimeout)
	if err != nil {
		return nil, err
	}
	var out []models.DownloadRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("records_load: decode: %w", err)
	}
	return out, nil
}

// ListFiles returns the manifest of the published bundle.
func (c *Client) ListFiles(ctx context.Context) (models.FileList, error) {
	data, err := c.do(ctx, "files_list", fasthttp.MethodGet, "api/files/list", "", nil, c.opts.FilesTimeout)
	if err != nil {
		return models.FileList{}, err
	}
	var out models.FileList
	if err := json.Unmarshal(data, &out); err != nil {
		return models.FileList{}, fmt.Errorf("files_list: decode: %w", err)
	}
	return out, nil
}

// PutFile uploads an object keyed by its sha256. An object the server
// already holds counts as uploaded.
func (c *Client) PutFile(ctx context.Context, sha256, filename string, data []byte) error {
	if c.opts.MaxUploadBytes > 0 && int64(len(data)) > c.opts.MaxUploadBytes {
		return fmt.Errorf("files_put: %s is %d bytes, limit is %d", filename, len(data), c.opts.MaxUploadBytes)
	}
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("filename", filename)

	path := "api/files/objects/" + sha256 + "?" + args.String()
	_, err := c.do(ctx, "files_put", fasthttp.MethodPut, path, "application/octet-stream", data, c.opts.FilesTimeout)
	if IsStatus(err, fasthttp.StatusConflict) {
		logger.Debug("files_put_exists", "filename", filename, "sha256", sha256)
		return nil
	}
	return err
}

// Publish makes files (filename to sha256) the new published bundle and
// returns its version.
func (c *Client) Publish(ctx context.Context, files map[string]string) (int64, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	for _, name := range names {
		args.Set(name, files[name])
	}

	data, err := c.do(ctx, "files_publish", fasthttp.MethodPost, "api/files/publish",
		"application/x-www-form-urlencoded", args.QueryString(), c.opts.FilesTimeout)
	if err != nil {
		return 0, err
	}
	var res models.PublishResult
	if err := json.Unmarshal(data, &res); err != nil {
		return 0, fmt.Errorf("files_publish: decode: %w", err)
	}
	return res.Version, nil
}

// FetchFile downloads a published file. found is false when the bundle has
// no such file.
func (c *Client) FetchFile(ctx context.Context, version int64, filename string) ([]byte, bool, error) {
	path := "files/" + strconv.FormatInt(version, 10) + "/" + strings.TrimPrefix(filename, "/")
	data, err := c.do(ctx, "files_fetch", fasthttp.MethodGet, path, "", nil, c.opts.FilesTimeout)
	if IsStatus(err, fasthttp.StatusNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// do runs one request. The deadline is the earlier of the timeout and the
// ctx deadline. The returned body is a copy.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	tr := telemetry.Track("remote." + op)
	defer tr.Finish()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.instance + path)
	req.Header.SetMethod(method)
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if c.opts.Username != "" {
		req.Header.Set(UserHeader, c.opts.Username)
	}
	if body != nil {
		req.SetBody(body)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		logger.Warn("remote_request_failed", "op", op, "error", err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	tr.Mark("response")

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(string(out))
		logger.Debug("remote_request_rejected", "op", op, "status", status, "message", msg)
		return nil, &ServerError{Op: op, Status: status, Message: msg}
	}
	return out, nil
}
