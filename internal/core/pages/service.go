// Package pages holds the page-level operations exposed by the gateway. Each one
// resolves the page credential, then goes through the request executor with the
// page's throttle context.
package pages

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/credentials"
	"github.com/pagegate/pagegate/internal/core/graph"
)

// Duplicate guard kinds
const (
	KindPost         = "post"
	KindPhotoCaption = "photo_caption"
	KindVideoDesc    = "video_desc"
	KindReelDesc     = "reel_desc"
)

const (
	infoFields         = "name,about,description,website,location{street,city,zip,country}"
	conversationFields = "id,link,updated_time,unread_count,participants,senders"
	threadFields       = "id,link,messages.limit(50){id,created_time,from,to,message,attachments,shares,permalink_url},participants"
	conversationLimit  = "20"
)

// Executor is the part of the request executor the operations use.
type Executor interface {
	Do(ctx context.Context, req *graph.Request) (*core.Response, error)
	Get(ctx context.Context, path string, params url.Values, credential, contextKey string) (*core.Response, error)
	Post(ctx context.Context, path string, form url.Values, credential, contextKey string) (*core.Response, error)
	PostMultipart(ctx context.Context, path string, files []graph.File, form url.Values, credential, contextKey string) (*core.Response, error)
	Permalink(ctx context.Context, objectID, credential, contextKey string) string
	UploadLargeMedia(ctx context.Context, resourceID, credential string, payload io.Reader, description string) (*graph.UploadResult, error)
	IsDuplicate(kind, resourceKey, content string) bool
}

// Resolver finds page credentials.
type Resolver interface {
	Resolve(ctx context.Context, resourceID, master string) (credentials.Result, error)
	Pages(ctx context.Context, master string) ([]core.Page, error)
}

var (
	_ Executor = (*graph.Client)(nil)
	_ Resolver = (*credentials.Resolver)(nil)
)

// Media is an uploaded file as received from a client.
type Media struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// Service implements the page operations.
type Service struct {
	API         Executor
	Credentials Resolver
	// MasterToken enables account discovery when set.
	MasterToken string
}

// NewService returns a service over the executor and resolver.
func NewService(api Executor, resolver Resolver, masterToken string) *Service {
	return &Service{API: api, Credentials: resolver, MasterToken: strings.TrimSpace(masterToken)}
}

// page is a resolved call target.
type page struct {
	id         string
	credential string
	contextKey string
}

func (s *Service) page(ctx context.Context, pageID string) (page, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return page{}, core.NewInvalidInputError("page id is required")
	}
	result, err := s.Credentials.Resolve(ctx, pageID, s.MasterToken)
	if err != nil {
		return page{}, err
	}
	return page{id: pageID, credential: result.Credential, contextKey: core.ResourceContext(pageID)}, nil
}

// ListPages returns the pages reachable with the configured credentials.
func (s *Service) ListPages(ctx context.Context) ([]core.Page, error) {
	pages, err := s.Credentials.Pages(ctx, s.MasterToken)
	if err != nil {
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.NewTransportError(err)
	}
	return pages, nil
}

// PublishPost publishes a text post and adds its permalink when available.
func (s *Service) PublishPost(ctx context.Context, pageID, message string) (*core.Response, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, core.NewInvalidInputError("message is required")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}

	resp, err := s.API.Do(ctx, &graph.Request{
		Method:      "POST",
		Path:        p.id + "/feed",
		Params:      url.Values{"message": {message}},
		Credential:  p.credential,
		ContextKey:  p.contextKey,
		Fingerprint: &graph.Fingerprint{Kind: KindPost, ResourceKey: p.id, Content: message},
	})
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, p, resp, "id")
	return resp, nil
}

// PublishPhoto publishes a photo with an optional caption.
func (s *Service) PublishPhoto(ctx context.Context, pageID string, media Media, caption string) (*core.Response, error) {
	p, file, err := s.mediaTarget(ctx, pageID, media)
	if err != nil {
		return nil, err
	}

	req := &graph.Request{
		Method:     "POST",
		Path:       p.id + "/photos",
		Params:     url.Values{"caption": {caption}, "published": {"true"}},
		Files:      []graph.File{file},
		Credential: p.credential,
		ContextKey: p.contextKey,
	}
	if strings.TrimSpace(caption) != "" {
		req.Fingerprint = &graph.Fingerprint{Kind: KindPhotoCaption, ResourceKey: p.id, Content: caption}
	}

	resp, err := s.API.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, p, resp, "id", "post_id")
	return resp, nil
}

// PublishVideo publishes a video through the regular multipart endpoint.
func (s *Service) PublishVideo(ctx context.Context, pageID string, media Media, description string) (*core.Response, error) {
	p, file, err := s.mediaTarget(ctx, pageID, media)
	if err != nil {
		return nil, err
	}

	req := &graph.Request{
		Method:     "POST",
		Path:       p.id + "/videos",
		Params:     url.Values{"description": {description}},
		Files:      []graph.File{file},
		Credential: p.credential,
		ContextKey: p.contextKey,
	}
	if strings.TrimSpace(description) != "" {
		req.Fingerprint = &graph.Fingerprint{Kind: KindVideoDesc, ResourceKey: p.id, Content: description}
	}

	resp, err := s.API.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, p, resp, "id", "video_id")
	return resp, nil
}

// PublishReel runs the three-phase large-media upload.
func (s *Service) PublishReel(ctx context.Context, pageID string, media Media, description string) (*graph.UploadResult, error) {
	if media.Reader == nil {
		return nil, core.NewInvalidInputError("video is required")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) != "" && s.API.IsDuplicate(KindReelDesc, p.id, description) {
		return nil, core.NewDuplicateContentError(KindReelDesc)
	}
	return s.API.UploadLargeMedia(ctx, p.id, p.credential, media.Reader, description)
}

// SetAvatar replaces the page profile picture.
func (s *Service) SetAvatar(ctx context.Context, pageID string, media Media) (*core.Response, error) {
	p, file, err := s.mediaTarget(ctx, pageID, media)
	if err != nil {
		return nil, err
	}
	return s.API.PostMultipart(ctx, p.id+"/picture", []graph.File{file}, nil, p.credential, p.contextKey)
}

// SetCover uploads an unpublished photo and sets it as the cover. The field name
// the upstream accepts varies, so "cover" is tried before "cover_photo".
func (s *Service) SetCover(ctx context.Context, pageID string, media Media) (*core.Response, error) {
	p, file, err := s.mediaTarget(ctx, pageID, media)
	if err != nil {
		return nil, err
	}

	uploaded, err := s.API.PostMultipart(ctx, p.id+"/photos", []graph.File{file}, url.Values{"published": {"false"}}, p.credential, p.contextKey)
	if err != nil {
		return nil, err
	}
	photoID := uploaded.String("id")
	if photoID == "" {
		failed := core.NewUpstreamError(502, uploaded.Body)
		failed.Message = "photo upload returned no id"
		return nil, failed
	}

	resp, err := s.API.Post(ctx, p.id, url.Values{"cover": {photoID}}, p.credential, p.contextKey)
	if err == nil {
		return resp, nil
	}
	if core.IsKind(err, core.ErrorKindRateLimit) {
		return nil, err
	}
	fallback, fallbackErr := s.API.Post(ctx, p.id, url.Values{"cover_photo": {photoID}}, p.credential, p.contextKey)
	if fallbackErr != nil {
		return nil, err
	}
	return fallback, nil
}

// PageInfo returns the page profile fields.
func (s *Service) PageInfo(ctx context.Context, pageID string) (*core.Response, error) {
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return s.API.Get(ctx, p.id, url.Values{"fields": {infoFields}}, p.credential, p.contextKey)
}

// Address is the postal part of an info update.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// InfoUpdate lists the profile fields that can be changed. Empty fields are left
// untouched.
type InfoUpdate struct {
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Website     string  `json:"website,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Address     Address `json:"address,omitempty"`
	AlwaysOpen  bool    `json:"always_open,omitempty"`
}

var weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// Form renders the update as upstream form fields.
func (u InfoUpdate) Form() url.Values {
	form := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			form.Set(key, value)
		}
	}
	set("name", u.Name)
	set("description", u.Description)
	set("website", u.Website)
	set("phone", u.Phone)
	set("location[street]", u.Address.Street)
	set("location[city]", u.Address.City)
	set("location[zip]", u.Address.Zip)
	set("location[country]", u.Address.Country)
	if u.AlwaysOpen {
		for _, day := range weekdays {
			form.Set("hours["+day+"_1_open]", "00:00")
			form.Set("hours["+day+"_1_close]", "23:59")
		}
	}
	return form
}

// UpdatePageInfo changes profile fields.
func (s *Service) UpdatePageInfo(ctx context.Context, pageID string, update InfoUpdate) (*core.Response, error) {
	form := update.Form()
	if len(form) == 0 {
		return nil, core.NewInvalidInputError("update is empty")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return s.API.Post(ctx, p.id, form, p.credential, p.contextKey)
}

// ListConversations returns the most recent inbox threads.
func (s *Service) ListConversations(ctx context.Context, pageID string) (*core.Response, error) {
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	params := url.Values{"fields": {conversationFields}, "limit": {conversationLimit}}
	return s.API.Get(ctx, p.id+"/conversations", params, p.credential, p.contextKey)
}

// GetConversation returns one thread with sender names filled in from the
// participant list.
func (s *Service) GetConversation(ctx context.Context, pageID, threadID string) (*core.Response, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, core.NewInvalidInputError("thread id is required")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	resp, err := s.API.Get(ctx, threadID, url.Values{"fields": {threadFields}}, p.credential, p.contextKey)
	if err != nil {
		return nil, err
	}
	fillSenderNames(resp.Body)
	return resp, nil
}

// SendMessage replies to a user in the page inbox.
func (s *Service) SendMessage(ctx context.Context, pageID, recipientID, text string) (*core.Response, error) {
	recipientID = strings.TrimSpace(recipientID)
	text = strings.TrimSpace(text)
	if recipientID == "" || text == "" {
		return nil, core.NewInvalidInputError("recipient and text are required")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return nil, err
	}

	recipient, err := encodeJSONField(map[string]string{"id": recipientID})
	if err != nil {
		return nil, core.NewInvalidInputError(err.Error())
	}
	message, err := encodeJSONField(map[string]string{"text": text})
	if err != nil {
		return nil, core.NewInvalidInputError(err.Error())
	}
	form := url.Values{
		"recipient":      {recipient},
		"message":        {message},
		"messaging_type": {"RESPONSE"},
	}
	return s.API.Post(ctx, p.id+"/messages", form, p.credential, p.contextKey)
}

func (s *Service) mediaTarget(ctx context.Context, pageID string, media Media) (page, graph.File, error) {
	if media.Reader == nil {
		return page{}, graph.File{}, core.NewInvalidInputError("file is required")
	}
	p, err := s.page(ctx, pageID)
	if err != nil {
		return page{}, graph.File{}, err
	}
	file, err := graph.NewBufferedFile("source", media.Filename, media.ContentType, media.Reader)
	if err != nil {
		return page{}, graph.File{}, core.NewInvalidInputError(err.Error())
	}
	return p, file, nil
}

// enrich adds permalink_url using the first id field present in the response.
// Lookup failures are ignored.
func (s *Service) enrich(ctx context.Context, p page, resp *core.Response, idFields ...string) {
	if resp == nil || resp.Body == nil {
		return
	}
	for _, field := range idFields {
		id := resp.String(field)
		if id == "" {
			continue
		}
		if link := s.API.Permalink(ctx, id, p.credential, p.contextKey); link != "" {
			resp.Body["permalink_url"] = link
		}
		return
	}
}
