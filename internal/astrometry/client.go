package astrometry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"platesolver/internal/apperrors"
	"platesolver/pkg/retry"
)

// refererURL must match the upstream service's login page on every request.
// The service rejects API calls without it.
const refererURL = "https://nova.astrometry.net/login"

const (
	defaultReadTimeout   = 30 * time.Second
	defaultUploadTimeout = 120 * time.Second
)

// Options configures the transport client.
type Options struct {
	ReadTimeout   time.Duration // per read/poll call (default: 30s)
	UploadTimeout time.Duration // per upload call (default: 120s)
}

// Client is a stateless wrapper over the solver's REST surface. Each
// operation is a single network call; only idempotent read calls are
// retried, and only for network-class failures.
type Client struct {
	readClient   *http.Client
	uploadClient *http.Client
	retryCfg     retry.Config
	logger       *slog.Logger
}

// NewClient creates a transport client.
func NewClient(opts Options) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		readClient:   &http.Client{Timeout: opts.ReadTimeout, Transport: transport},
		uploadClient: &http.Client{Timeout: opts.UploadTimeout, Transport: transport},
		retryCfg:     retry.Config{Initial: time.Second, MaxRetries: 3},
		logger:       slog.With("component", "astrometry"),
	}
}

type loginRequest struct {
	APIKey string `json:"apikey"`
}

type loginResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Session string `json:"session"`
}

// Login exchanges an API key for a session token.
func (c *Client) Login(ctx context.Context, serverURL, apiKey string) (string, error) {
	var resp loginResponse
	err := c.postForm(ctx, "astrometry.login", serverURL+"/api/login", loginRequest{APIKey: apiKey}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Status != "success" || resp.Session == "" {
		msg := resp.Message
		if msg == "" {
			msg = "login rejected by solver"
		}
		return "", apperrors.Auth("astrometry.login", msg)
	}
	return resp.Session, nil
}

// uploadRequest is the JSON metadata blob accompanying both upload flavors.
type uploadRequest struct {
	Session            string  `json:"session"`
	URL                string  `json:"url,omitempty"`
	PubliclyVisible    string  `json:"publicly_visible"`
	AllowCommercialUse string  `json:"allow_commercial_use"`
	ScaleUnits         string  `json:"scale_units,omitempty"`
	ScaleType          string  `json:"scale_type,omitempty"`
	ScaleLower         float64 `json:"scale_lower,omitempty"`
	ScaleUpper         float64 `json:"scale_upper,omitempty"`
}

func newUploadRequest(opts UploadOptions) uploadRequest {
	req := uploadRequest{
		Session:            opts.SessionToken,
		PubliclyVisible:    yesNo(opts.PubliclyVisible),
		AllowCommercialUse: yesNo(opts.AllowCommercialUse),
		ScaleUnits:         opts.ScaleUnits,
	}
	if opts.ScaleLower > 0 && opts.ScaleUpper > 0 {
		req.ScaleType = "ul"
		req.ScaleLower = opts.ScaleLower
		req.ScaleUpper = opts.ScaleUpper
	}
	return req
}

func yesNo(v bool) string {
	if v {
		return "y"
	}
	return "n"
}

type uploadResponse struct {
	Status       string `json:"status"`
	SubID        int64  `json:"subid"`
	Hash         string `json:"hash"`
	ErrorMessage string `json:"errormessage"`
}

// UploadFile submits a local file for solving and returns the submission id.
// The body is streamed as multipart segments (JSON metadata part, then the
// raw binary file part, then the closing boundary) so large scientific
// images are never base64-inflated or buffered whole.
func (c *Client) UploadFile(ctx context.Context, serverURL, path string, opts UploadOptions) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("astrometry.uploadFile: %w", err)
	}
	defer file.Close()

	meta, err := json.Marshal(newUploadRequest(opts))
	if err != nil {
		return 0, fmt.Errorf("astrometry.uploadFile: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadBody(mw, meta, filepath.Base(path), file)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/upload", pr)
	if err != nil {
		return 0, fmt.Errorf("astrometry.uploadFile: %w", err)
	}
	req.Header.Set("Referer", refererURL)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.do(c.uploadClient, "astrometry.uploadFile", req, &resp); err != nil {
		return 0, err
	}
	return submissionID("astrometry.uploadFile", resp)
}

// writeUploadBody emits the JSON metadata part, the binary file part, and
// the closing boundary, in that order.
func writeUploadBody(mw *multipart.Writer, meta []byte, fileName string, file io.Reader) error {
	field, err := mw.CreateFormField("request-json")
	if err != nil {
		return err
	}
	if _, err := field.Write(meta); err != nil {
		return err
	}

	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}

	return mw.Close()
}

// UploadURL submits a remotely hosted image for solving.
func (c *Client) UploadURL(ctx context.Context, serverURL, imageURL string, opts UploadOptions) (int64, error) {
	req := newUploadRequest(opts)
	req.URL = imageURL

	var resp uploadResponse
	if err := c.postForm(ctx, "astrometry.uploadUrl", serverURL+"/api/url_upload", req, &resp); err != nil {
		return 0, err
	}
	return submissionID("astrometry.uploadUrl", resp)
}

func submissionID(op string, resp uploadResponse) (int64, error) {
	if resp.Status != "success" || resp.SubID == 0 {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "response missing submission id"
		}
		return 0, apperrors.Unknown(op, fmt.Errorf("upload failed: %s", msg))
	}
	return resp.SubID, nil
}

// submissionResponse uses pointers for job ids because the service reports
// queued-but-unstarted jobs as JSON nulls.
type submissionResponse struct {
	ProcessingStarted string   `json:"processing_started"`
	Jobs              []*int64 `json:"jobs"`
	UserImages        []int64  `json:"user_images"`
}

// GetSubmissionStatus reports the jobs spawned by a submission.
func (c *Client) GetSubmissionStatus(ctx context.Context, serverURL string, submissionID int64) (*SubmissionStatus, error) {
	var resp submissionResponse
	u := fmt.Sprintf("%s/api/submissions/%d", serverURL, submissionID)
	if err := c.getJSON(ctx, "astrometry.getSubmissionStatus", u, &resp); err != nil {
		return nil, err
	}

	status := &SubmissionStatus{
		ProcessingStarted: resp.ProcessingStarted,
		UserImageIDs:      resp.UserImages,
	}
	for _, id := range resp.Jobs {
		if id != nil {
			status.JobIDs = append(status.JobIDs, *id)
		}
	}
	return status, nil
}

// GetJobStatus reports whether a job is still solving or has finished.
func (c *Client) GetJobStatus(ctx context.Context, serverURL string, jobID int64) (JobState, error) {
	var resp struct {
		Status string `json:"status"`
	}
	u := fmt.Sprintf("%s/api/jobs/%d", serverURL, jobID)
	if err := c.getJSON(ctx, "astrometry.getJobStatus", u, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "success":
		return JobSuccess, nil
	case "failure":
		return JobFailure, nil
	default:
		// "solving", "processing" and anything unexpected: still in flight.
		return JobSolving, nil
	}
}

type calibrationResponse struct {
	RA          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	Radius      float64 `json:"radius"`
	PixScale    float64 `json:"pixscale"`
	Orientation float64 `json:"orientation"`
	Parity      float64 `json:"parity"`
	WidthArcsec float64 `json:"width_arcsec"`
	HeightArcs  float64 `json:"height_arcsec"`
}

func (r calibrationResponse) toCalibration() *Calibration {
	return &Calibration{
		RA:          r.RA,
		Dec:         r.Dec,
		Radius:      r.Radius,
		PixScale:    r.PixScale,
		Orientation: r.Orientation,
		Parity:      r.Parity,
		WidthDeg:    r.WidthArcsec / 3600,
		HeightDeg:   r.HeightArcs / 3600,
	}
}

// GetJobCalibration fetches the astrometric calibration of a successful job.
func (c *Client) GetJobCalibration(ctx context.Context, serverURL string, jobID int64) (*Calibration, error) {
	var resp calibrationResponse
	u := fmt.Sprintf("%s/api/jobs/%d/calibration", serverURL, jobID)
	if err := c.getJSON(ctx, "astrometry.getJobCalibration", u, &resp); err != nil {
		return nil, err
	}
	return resp.toCalibration(), nil
}

type annotationResponse struct {
	Annotations []struct {
		Type   string   `json:"type"`
		Names  []string `json:"names"`
		PixelX float64  `json:"pixelx"`
		PixelY float64  `json:"pixely"`
		Radius float64  `json:"radius"`
	} `json:"annotations"`
}

// GetJobAnnotations fetches the recognized objects of a successful job,
// normalizing the service's free-text categories.
func (c *Client) GetJobAnnotations(ctx context.Context, serverURL string, jobID int64) ([]Annotation, error) {
	var resp annotationResponse
	u := fmt.Sprintf("%s/api/jobs/%d/annotations", serverURL, jobID)
	if err := c.getJSON(ctx, "astrometry.getJobAnnotations", u, &resp); err != nil {
		return nil, err
	}

	annotations := make([]Annotation, 0, len(resp.Annotations))
	for _, a := range resp.Annotations {
		annotations = append(annotations, Annotation{
			Category: NormalizeCategory(a.Type),
			Names:    a.Names,
			PixelX:   a.PixelX,
			PixelY:   a.PixelY,
			Radius:   a.Radius,
		})
	}
	return annotations, nil
}

type jobInfoResponse struct {
	Status           string               `json:"status"`
	OriginalFilename string               `json:"original_filename"`
	Tags             []string             `json:"tags"`
	MachineTags      []string             `json:"machine_tags"`
	ObjectsInField   []string             `json:"objects_in_field"`
	Calibration      *calibrationResponse `json:"calibration"`
}

// GetJobInfo fetches the solver's metadata for a finished job.
func (c *Client) GetJobInfo(ctx context.Context, serverURL string, jobID int64) (*JobInfo, error) {
	var resp jobInfoResponse
	u := fmt.Sprintf("%s/api/jobs/%d/info", serverURL, jobID)
	if err := c.getJSON(ctx, "astrometry.getJobInfo", u, &resp); err != nil {
		return nil, err
	}

	info := &JobInfo{
		Status:           resp.Status,
		OriginalFilename: resp.OriginalFilename,
		Tags:             resp.Tags,
		MachineTags:      resp.MachineTags,
		ObjectsInField:   resp.ObjectsInField,
	}
	if resp.Calibration != nil {
		info.Calibration = resp.Calibration.toCalibration()
	}
	return info, nil
}

// Ready probes the solver for reachability. Any HTTP answer below 500
// counts: the probe only verifies the service is talking to us.
func (c *Client) Ready(ctx context.Context, serverURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Referer", refererURL)

	resp, err := c.readClient.Do(req)
	if err != nil {
		return apperrors.Network("astrometry.ready", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.Classify(&apperrors.StatusError{StatusCode: resp.StatusCode, Op: "astrometry.ready"})
	}
	return nil
}

// getJSON performs a read call with the transparent network-failure retry
// policy. Auth, not-found, rate-limit and server errors surface immediately.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return err
		}
		req.Header.Set("Referer", refererURL)
		return c.do(c.readClient, op, req, out)
	}, apperrors.IsRetryable)
}

// postForm submits a url-encoded request-json blob, the service's envelope
// for non-multipart mutations. Never retried.
func (c *Client) postForm(ctx context.Context, op, rawURL string, payload any, out any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form := url.Values{"request-json": {string(blob)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Referer", refererURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(c.readClient, op, req, out)
}

func (c *Client) do(client *http.Client, op string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apperrors.StatusError{
			StatusCode: resp.StatusCode,
			Op:         op,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
