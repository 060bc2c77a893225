package spark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

const (
	// DefaultAPIURL is the public Webex REST API.
	DefaultAPIURL = "https://api.ciscospark.com/v1"

	// defaultHTTPTimeout bounds each API round trip.
	defaultHTTPTimeout = 30 * time.Second

	// webhookName is the name the bot registers its message webhook
	// under.
	webhookName = "gerritbot"
)

// ClientConfig packages what a Client needs to talk to the Webex API.
type ClientConfig struct {
	// APIURL is the API base URL. Empty selects the public API.
	APIURL string

	// BotToken authenticates every request.
	BotToken string

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client
}

// Client is an authenticated Webex API client.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	// personID is the bot's own account id, used to ignore the bot's own
	// messages when they come back through the webhook.
	personID string
}

// NewClient builds a client and resolves the bot's own identity.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	client := &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}

	var me personDetails
	if err := client.get(ctx, "people/me", &me); err != nil {
		return nil, fmt.Errorf("unable to resolve own identity: %w",
			err)
	}
	client.personID = me.ID

	log.Infof("Authenticated to Webex as %s (%s)", me.DisplayName, me.ID)

	return client, nil
}

// PersonID returns the bot's own account id.
func (c *Client) PersonID() string {
	return c.personID
}

// SendToPersonEmail sends a markdown message as a direct message to the
// account behind an email address. The markdown is also rendered to HTML so
// clients without markdown support still see formatting.
func (c *Client) SendToPersonEmail(ctx context.Context, email,
	markdown string) error {

	return c.createMessage(ctx, createMessageRequest{
		ToPersonEmail: email,
		Markdown:      markdown,
		HTML:          renderHTML(markdown),
	})
}

// SendToRoom sends a markdown message into a room.
func (c *Client) SendToRoom(ctx context.Context, roomID,
	markdown string) error {

	return c.createMessage(ctx, createMessageRequest{
		RoomID:   roomID,
		Markdown: markdown,
		HTML:     renderHTML(markdown),
	})
}

// Reply answers the sender of a message in the room it arrived in, falling
// back to a direct message when the room is unknown.
func (c *Client) Reply(ctx context.Context, msg *Message,
	markdown string) error {

	if msg.RoomID != "" {
		return c.SendToRoom(ctx, msg.RoomID, markdown)
	}

	return c.SendToPersonEmail(ctx, msg.PersonEmail, markdown)
}

// GetMessage fetches a message by id. Webhook deliveries carry no text, so
// the receiver uses this to load the full message.
func (c *Client) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	if err := c.get(ctx, "messages/"+url.PathEscape(id), &msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// GetPersonEmail resolves an account id to its primary email address.
func (c *Client) GetPersonEmail(ctx context.Context, personID string) (string,
	error) {

	var person personDetails
	err := c.get(ctx, "people/"+url.PathEscape(personID), &person)
	if err != nil {
		return "", err
	}
	if len(person.Emails) == 0 {
		return "", fmt.Errorf("person %s has no email", personID)
	}

	return person.Emails[0], nil
}

// RegisterWebhook points the bot's message webhook at the given public URL,
// removing any stale message webhooks first so deliveries never double up.
func (c *Client) RegisterWebhook(ctx context.Context, targetURL string) error {
	var existing webhookList
	if err := c.get(ctx, "webhooks", &existing); err != nil {
		return fmt.Errorf("unable to list webhooks: %w", err)
	}

	for _, hook := range existing.Items {
		if hook.Resource != "messages" || hook.Event != "created" {
			continue
		}

		log.Debugf("Removing stale webhook %s -> %s", hook.ID,
			hook.TargetURL)

		err := c.delete(ctx, "webhooks/"+url.PathEscape(hook.ID))
		if err != nil {
			// A stale webhook that cannot be removed is not fatal,
			// the new registration still wins.
			log.Warnf("Unable to remove webhook %s: %v", hook.ID,
				err)
		}
	}

	return c.post(ctx, "webhooks", webhookRegistration{
		Name:      webhookName,
		TargetURL: targetURL,
		Resource:  "messages",
		Event:     "created",
	}, nil)
}

// createMessage posts a message creation request.
func (c *Client) createMessage(ctx context.Context,
	req createMessageRequest) error {

	return c.post(ctx, "messages", req, nil)
}

// renderHTML converts markdown to HTML, returning the empty string when the
// markdown does not render.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		log.Warnf("Unable to render markdown to HTML: %v", err)
		return ""
	}

	return strings.TrimSpace(buf.String())
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any,
	result any) error {

	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do runs one API round trip, encoding the body and decoding the response
// when asked to.
func (c *Client) do(ctx context.Context, method, path string, body any,
	result any) error {

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.cfg.APIURL+"/"+path, reqBody,
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s failed: %s: %s", method, path,
			resp.Status, strings.TrimSpace(string(respBody)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("unable to decode response: %w", err)
		}
	}

	return nil
}
