package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ API = (*RESTClient)(nil)

// RESTClient implements API against the HTTP surface of the transport
// collaborator. Each call carries its own deadline and an audit id so
// remote-side logs can be correlated with ours.
type RESTClient struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	HTTP *http.Client
}

func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
		HTTP:    &http.Client{},
	}
}

func (c *RESTClient) CreateChannel(ctx context.Context, guildID string, req ChannelCreate) (channelID string, err error) {
	var resp struct {
		ChannelID string `json:"channelId"`
	}

	path := fmt.Sprintf("/guilds/%s/channels", url.PathEscape(guildID))
	if err = c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return
	}

	channelID = resp.ChannelID
	return
}

func (c *RESTClient) DeleteChannel(ctx context.Context, channelID string) (err error) {
	path := fmt.Sprintf("/channels/%s", url.PathEscape(channelID))
	err = c.do(ctx, http.MethodDelete, path, nil, nil)
	return
}

func (c *RESTClient) UpdateChannel(ctx context.Context, channelID string, patch ChannelPatch) (err error) {
	path := fmt.Sprintf("/channels/%s", url.PathEscape(channelID))
	err = c.do(ctx, http.MethodPatch, path, patch, nil)
	return
}

func (c *RESTClient) MoveMember(ctx context.Context, guildID, userID, channelID string) (err error) {
	body := struct {
		ChannelID *string `json:"channelId"`
	}{}
	if channelID != "" {
		body.ChannelID = &channelID
	}

	path := fmt.Sprintf("/guilds/%s/members/%s/voice", url.PathEscape(guildID), url.PathEscape(userID))
	err = c.do(ctx, http.MethodPatch, path, body, nil)
	return
}

func (c *RESTClient) EditOverwrites(ctx context.Context, channelID string, overwrites []Overwrite) (err error) {
	body := struct {
		Overwrites []Overwrite `json:"overwrites"`
	}{Overwrites: overwrites}

	path := fmt.Sprintf("/channels/%s/permissions", url.PathEscape(channelID))
	err = c.do(ctx, http.MethodPut, path, body, nil)
	return
}

func (c *RESTClient) ListChannels(ctx context.Context, guildID, categoryID string) (channels []ChannelInfo, err error) {
	path := fmt.Sprintf("/guilds/%s/channels", url.PathEscape(guildID))
	if categoryID != "" {
		path += "?category=" + url.QueryEscape(categoryID)
	}

	channels = make([]ChannelInfo, 0)
	err = c.do(ctx, http.MethodGet, path, nil, &channels)
	return
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var buf io.Reader
	if body != nil {
		var encoded []byte
		if encoded, err = json.Marshal(body); err != nil {
			return
		}
		buf = bytes.NewReader(encoded)
	}

	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, buf); err != nil {
		return
	}

	req.Header.Set("Authorization", "Bot "+c.Token)
	req.Header.Set("X-Audit-Id", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	if resp, err = c.HTTP.Do(req); err != nil {
		zap.L().Debug("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		return
	}

	if out != nil {
		err = json.NewDecoder(resp.Body).Decode(out)
	}
	return
}
