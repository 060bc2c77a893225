package spark

// Message is a chat message as the Webex API represents it. Messages
// delivered through webhooks arrive without their text; GetMessage fills
// them in.
type Message struct {
	ID          string `json:"id"`
	PersonID    string `json:"personId"`
	PersonEmail string `json:"personEmail"`
	RoomID      string `json:"roomId"`
	RoomType    string `json:"roomType"`
	Text        string `json:"text,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
	HTML        string `json:"html,omitempty"`
}

// WebhookEnvelope is the POST body Webex delivers to a registered webhook.
type WebhookEnvelope struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Resource string  `json:"resource"`
	Event    string  `json:"event"`
	ActorID  string  `json:"actorId"`
	Data     Message `json:"data"`
}

// createMessageRequest is the POST body for sending a message.
type createMessageRequest struct {
	RoomID        string `json:"roomId,omitempty"`
	ToPersonID    string `json:"toPersonId,omitempty"`
	ToPersonEmail string `json:"toPersonEmail,omitempty"`
	Markdown      string `json:"markdown,omitempty"`
	HTML          string `json:"html,omitempty"`
	Text          string `json:"text,omitempty"`
}

// personDetails is the response of the people endpoints.
type personDetails struct {
	ID          string   `json:"id"`
	Emails      []string `json:"emails"`
	DisplayName string   `json:"displayName"`
	PersonType  string   `json:"type"`
}

// webhookRegistration is the POST body for creating a webhook.
type webhookRegistration struct {
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
}

// webhook is one registered webhook as the API lists them.
type webhook struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
}

// webhookList is the response of the webhooks list endpoint.
type webhookList struct {
	Items []webhook `json:"items"`
}
