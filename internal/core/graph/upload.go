package graph

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/metrics"
)

// Upload failure codes reported on UPLOAD_PHASE_FAILED errors.
const (
	CodeUploadStartFailed    = "REELS_START_FAILED"
	CodeUploadTransferFailed = "REELS_RUPLOAD_FAILED"
	CodeUploadFinishFailed   = "REELS_FINISH_FAILED"
)

// UploadResult is the outcome of a completed large-media upload.
type UploadResult struct {
	VideoID      string           `json:"video_id"`
	Body         map[string]any   `json:"result"`
	PermalinkURL string           `json:"permalink_url,omitempty"`
	Phase        core.UploadPhase `json:"phase"`
}

// StartLargeUpload opens an upload session and returns its upload id.
func (c *Client) StartLargeUpload(ctx context.Context, resourceID, credential string) (string, error) {
	form := url.Values{"upload_phase": {string(core.UploadPhaseStart)}}
	resp, err := c.Post(ctx, resourceID+"/video_reels", form, credential, core.ResourceContext(resourceID))
	if err != nil {
		return "", core.NewUploadPhaseError(core.UploadPhaseStart, CodeUploadStartFailed, err)
	}
	uploadID := resp.String("video_id")
	if uploadID == "" {
		phaseErr := core.NewUploadPhaseError(core.UploadPhaseStart, CodeUploadStartFailed, nil)
		phaseErr.Message = "upstream returned no video_id"
		phaseErr.Body = resp.Body
		return "", phaseErr
	}
	return uploadID, nil
}

// TransferLargeUpload streams payload to the upload host in one request. Only the
// cooldown and the global slot apply; the upload host is not paced per resource.
func (c *Client) TransferLargeUpload(ctx context.Context, uploadID, credential string, payload io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fail := func(err error) error {
		return core.NewUploadPhaseError(core.UploadPhaseTransfer, CodeUploadTransferFailed, err)
	}

	if remaining := c.Tracker.RemainingCooldown(); remaining > 0 {
		metrics.RecordRateLimited(metrics.RateLimitSourceCooldown)
		return fail(core.NewRateLimitError(remaining))
	}

	wait, err := c.Governor.AwaitSlot(ctx, core.ContextGlobal)
	metrics.RecordGovernorWait(string(classTransfer), wait)
	if err != nil {
		return fail(core.NewTransportError(err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout(classTransfer))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL()+"/"+url.PathEscape(uploadID), payload)
	if err != nil {
		return fail(core.NewTransportError(err))
	}
	req.Header.Set("Authorization", "OAuth "+strings.TrimSpace(credential))
	req.Header.Set("offset", "0")
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		metrics.RecordUpstreamCall(string(classTransfer), 0)
		return fail(core.NewTransportError(err))
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(core.NewTransportError(err))
	}
	metrics.RecordUpstreamCall(string(classTransfer), resp.StatusCode)
	c.Tracker.RecordResponse(resp.Header)

	if resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode == http.StatusTooManyRequests {
			hint := retryAfter(resp.Header)
			c.Tracker.ExtendCooldown(maxDuration(hint, minRateLimitCooldown))
			rateErr := core.NewRateLimitError(hint)
			rateErr.Body = decodeBody(body)
			return fail(rateErr)
		}
		return fail(core.NewUpstreamError(resp.StatusCode, decodeErrorBody(body)))
	}

	// The upload host reports {"success": true}; an explicit false is a failure.
	if ok, present := decodeBody(body)["success"].(bool); present && !ok {
		return fail(core.NewUpstreamError(resp.StatusCode, decodeBody(body)))
	}
	return nil
}

// FinishLargeUpload publishes the transferred media with its description.
func (c *Client) FinishLargeUpload(ctx context.Context, resourceID, credential, uploadID, description string) (*core.Response, error) {
	form := url.Values{
		"upload_phase": {string(core.UploadPhaseFinish)},
		"video_id":     {uploadID},
		"description":  {description},
	}
	resp, err := c.Post(ctx, resourceID+"/video_reels", form, credential, core.ResourceContext(resourceID))
	if err != nil {
		return nil, core.NewUploadPhaseError(core.UploadPhaseFinish, CodeUploadFinishFailed, err)
	}
	return resp, nil
}

// UploadLargeMedia runs start, transfer and finish in order and stops at the first
// failing phase. There is no resume; a failed upload starts over.
func (c *Client) UploadLargeMedia(ctx context.Context, resourceID, credential string, payload io.Reader, description string) (*UploadResult, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, core.NewInvalidInputError("resource id is required")
	}
	if payload == nil {
		return nil, core.NewInvalidInputError("media payload is required")
	}

	uploadID, err := c.StartLargeUpload(ctx, resourceID, credential)
	if err != nil {
		metrics.RecordUploadPhaseFailure(string(core.UploadPhaseStart))
		return nil, err
	}

	if err := c.TransferLargeUpload(ctx, uploadID, credential, payload); err != nil {
		metrics.RecordUploadPhaseFailure(string(core.UploadPhaseTransfer))
		return nil, err
	}

	resp, err := c.FinishLargeUpload(ctx, resourceID, credential, uploadID, description)
	if err != nil {
		metrics.RecordUploadPhaseFailure(string(core.UploadPhaseFinish))
		return nil, err
	}

	result := &UploadResult{VideoID: uploadID, Body: resp.Body, Phase: core.UploadPhaseFinish}
	result.PermalinkURL = c.Permalink(ctx, uploadID, credential, core.ResourceContext(resourceID))
	return result, nil
}

// Permalink looks up the public link of a published object. Failures are ignored.
func (c *Client) Permalink(ctx context.Context, objectID, credential, contextKey string) string {
	if objectID == "" {
		return ""
	}
	resp, err := c.Get(ctx, objectID, url.Values{"fields": {"permalink_url"}}, credential, contextKey)
	if err != nil {
		return ""
	}
	return resp.String("permalink_url")
}
