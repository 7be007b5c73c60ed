// Package mineru is the client for the remote document extraction API.
package mineru

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/observability"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://mineru.net/api/v4"

// Timeouts bounds every network call the client makes.
type Timeouts struct {
	Submit   time.Duration
	Upload   time.Duration
	Query    time.Duration
	Download time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Submit:   30 * time.Second,
		Upload:   5 * time.Minute,
		Query:    30 * time.Second,
		Download: 10 * time.Minute,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	Credential domain.Credential
	Timeouts   Timeouts
	HTTPClient *http.Client
	Logger     *observability.Logger
}

// Client talks to the extraction API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	transport *Transport
	timeouts  Timeouts
	logger    *observability.Logger
}

var (
	_ domain.Submitter     = (*Client)(nil)
	_ domain.Uploader      = (*Client)(nil)
	_ domain.StatusQuerier = (*Client)(nil)
)

// NewClient creates a client. The credential is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Credential.IsZero() {
		return nil, domain.MissingCredential("an API token is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if u, err := url.Parse(baseURL); err != nil || u.Host == "" {
		return nil, domain.InvalidConfig(fmt.Sprintf("invalid base url %q", baseURL), err)
	}

	timeouts := cfg.Timeouts
	defaults := DefaultTimeouts()
	if timeouts.Submit <= 0 {
		timeouts.Submit = defaults.Submit
	}
	if timeouts.Upload <= 0 {
		timeouts.Upload = defaults.Upload
	}
	if timeouts.Query <= 0 {
		timeouts.Query = defaults.Query
	}
	if timeouts.Download <= 0 {
		timeouts.Download = defaults.Download
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		baseURL:   baseURL,
		transport: NewTransport(cfg.Credential, cfg.HTTPClient),
		timeouts:  timeouts,
		logger:    logger.WithOperation("mineru"),
	}, nil
}

type submitRequest struct {
	EnableFormula bool         `json:"enable_formula"`
	EnableTable   bool         `json:"enable_table"`
	EnableOCR     bool         `json:"enable_ocr"`
	Language      string       `json:"language"`
	Files         []submitFile `json:"files"`
}

type submitFile struct {
	Name   string `json:"name"`
	DataID string `json:"data_id,omitempty"`
}

type submitData struct {
	BatchID  string   `json:"batch_id"`
	FileURLs []string `json:"file_urls"`
}

// Submit requests an upload location for fileName. The run id carried by
// ctx, if any, is sent as the file's data_id.
func (c *Client) Submit(ctx context.Context, fileName string, opts domain.ProcessingOptions) (domain.BatchHandle, domain.UploadTarget, error) {
	body := submitRequest{
		EnableFormula: opts.EnableFormula,
		EnableTable:   opts.EnableTable,
		EnableOCR:     opts.EnableOCR,
		Language:      opts.Language,
		Files: []submitFile{{
			Name:   fileName,
			DataID: observability.RunIDFromContext(ctx),
		}},
	}

	resp, err := c.transport.Do(ctx, Request{
		Method:        http.MethodPost,
		URL:           c.baseURL + "/file-urls/batch",
		JSON:          body,
		Authenticated: true,
		Timeout:       c.timeouts.Submit,
	})
	if err != nil {
		return "", domain.UploadTarget{}, err
	}

	var data submitData
	env, err := decodeEnvelope(resp, submitDataValidator, &data)
	if err != nil {
		return "", domain.UploadTarget{}, err
	}
	if env.Code != 0 {
		return "", domain.UploadTarget{}, domain.SubmissionRejected(env.Code, env.Msg)
	}
	if len(data.FileURLs) == 0 {
		return "", domain.UploadTarget{}, domain.SubmissionEmpty()
	}

	c.logger.WithBatch(data.BatchID).Debug().
		Str("file", fileName).
		Int("targets", len(data.FileURLs)).
		Bool("ocr", opts.EnableOCR).
		Msg("upload location reserved")

	return domain.BatchHandle(data.BatchID), domain.UploadTarget{URL: data.FileURLs[0]}, nil
}

// Upload PUTs the file's raw bytes to a pre-signed target. No Content-Type
// header is sent; signed targets reject requests that carry one.
func (c *Client) Upload(ctx context.Context, localPath string, target domain.UploadTarget) error {
	if target.URL == "" {
		return domain.UploadRejected(0, "empty upload target")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.InputNotFound(localPath, err)
		}
		return domain.NewError(domain.KindInputNotFound, fmt.Sprintf("read input file %s", localPath), err)
	}

	resp, err := c.transport.Do(ctx, Request{
		Method:  http.MethodPut,
		URL:     target.URL,
		Body:    data,
		Timeout: c.timeouts.Upload,
	})
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		c.logger.Debug().Int("bytes", len(data)).Int("status", resp.StatusCode).Msg("upload accepted")
		return nil
	default:
		return domain.UploadRejected(resp.StatusCode, excerpt(resp.Body))
	}
}

type statusData struct {
	BatchID       string         `json:"batch_id"`
	ExtractResult []extractEntry `json:"extract_result"`
}

type extractEntry struct {
	FileName        string           `json:"file_name"`
	DataID          string           `json:"data_id"`
	State           string           `json:"state"`
	ErrMsg          string           `json:"err_msg"`
	FullZipURL      string           `json:"full_zip_url"`
	ExtractProgress *extractProgress `json:"extract_progress"`
}

type extractProgress struct {
	ExtractedPages int    `json:"extracted_pages"`
	TotalPages     int    `json:"total_pages"`
	StartTime      string `json:"start_time"`
}

// QueryStatus performs one status query. A batch with no extraction
// entries yet is reported as pending.
func (c *Client) QueryStatus(ctx context.Context, batch domain.BatchHandle) (domain.TaskStatus, error) {
	resp, err := c.transport.Do(ctx, Request{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/extract-results/batch/" + url.PathEscape(batch.String()),
		Authenticated: true,
		Timeout:       c.timeouts.Query,
	})
	if err != nil {
		return domain.TaskStatus{}, err
	}

	var data statusData
	env, err := decodeEnvelope(resp, statusDataValidator, &data)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	if env.Code != 0 {
		e := domain.TransportError(fmt.Sprintf("status query rejected: %s", env.Msg), nil)
		e.StatusCode = env.Code
		return domain.TaskStatus{}, e
	}

	if len(data.ExtractResult) == 0 {
		return domain.TaskStatus{State: domain.StatePending}, nil
	}

	entry := data.ExtractResult[0]
	status := domain.TaskStatus{
		State:    entry.State,
		FileName: entry.FileName,
		ErrMsg:   entry.ErrMsg,
	}
	if p := entry.ExtractProgress; p != nil {
		status.Progress = &domain.Progress{
			ExtractedPages: p.ExtractedPages,
			TotalPages:     p.TotalPages,
		}
	}
	if entry.State == domain.StateDone {
		status.Result = &domain.ResultDescriptor{
			BatchID:    batch,
			FileName:   entry.FileName,
			ArchiveURL: entry.FullZipURL,
		}
	}

	return status, nil
}

// Download streams the archive at archiveURL into w.
func (c *Client) Download(ctx context.Context, archiveURL string, w io.Writer, progress func(written, total int64)) (int64, error) {
	n, err := c.transport.Stream(ctx, Request{
		Method:  http.MethodGet,
		URL:     archiveURL,
		Timeout: c.timeouts.Download,
	}, w, progress)
	if err != nil {
		if domain.IsKind(err, domain.KindCancelled) {
			return n, err
		}
		e := domain.DownloadFailed(fmt.Sprintf("download %s", redactURL(archiveURL)), err)
		var de *domain.Error
		if errors.As(err, &de) {
			e.StatusCode = de.StatusCode
		}
		return n, e
	}

	c.logger.Debug().Int64("bytes", n).Msg("archive downloaded")
	return n, nil
}
