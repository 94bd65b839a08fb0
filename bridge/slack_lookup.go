package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	slackapi "github.com/slack-go/slack"
)

// defaultSlackAPIURL is the public Slack Web API base.
const defaultSlackAPIURL = "https://slack.com/api/"

// SlackProfileLookup fetches user profiles through the Slack users.info API.
//
// The request is hand-rolled rather than routed through slack-go because the
// avatar preference chain needs image_1024, which slack-go's UserProfile
// struct does not expose.
type SlackProfileLookup struct {
	apiURL     string
	httpClient *http.Client
}

// NewSlackProfileLookup creates a lookup against the given API base URL.
// An empty apiURL selects the public Slack API.
func NewSlackProfileLookup(apiURL string) *SlackProfileLookup {
	if apiURL == "" {
		apiURL = defaultSlackAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &SlackProfileLookup{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// usersInfoResponse mirrors the users.info wire format. Every field below
// user is optional and checked for presence.
type usersInfoResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  *struct {
		Profile *struct {
			DisplayName   string `json:"display_name"`
			RealName      string `json:"real_name"`
			ImageOriginal string `json:"image_original"`
			Image1024     string `json:"image_1024"`
			Image512      string `json:"image_512"`
			Image192      string `json:"image_192"`
			Image72       string `json:"image_72"`
			Image48       string `json:"image_48"`
		} `json:"profile,omitempty"`
	} `json:"user,omitempty"`
}

// GetUserProfile fetches the subject's profile. A response without a user or
// profile payload returns (nil, nil).
func (l *SlackProfileLookup) GetUserProfile(subjectID, credential string) (*RemoteProfile, error) {
	requestURL := l.apiURL + "users.info?token=" + url.QueryEscape(credential) + "&user=" + url.QueryEscape(subjectID)

	req, err := http.NewRequest(http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create users.info request")
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send users.info request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read users.info response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("users.info request failed: %d %s", resp.StatusCode, string(body))
	}

	var response usersInfoResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal users.info response")
	}

	if !response.OK {
		return nil, fmt.Errorf("users.info returned an error: %s", response.Error)
	}

	if response.User == nil || response.User.Profile == nil {
		return nil, nil
	}

	payload := response.User.Profile
	displayName := payload.DisplayName
	if displayName == "" {
		displayName = payload.RealName
	}

	return &RemoteProfile{
		DisplayName:   displayName,
		ImageOriginal: payload.ImageOriginal,
		Image1024:     payload.Image1024,
		Image512:      payload.Image512,
		Image192:      payload.Image192,
		Image72:       payload.Image72,
		Image48:       payload.Image48,
	}, nil
}

// VerifySlackCredential probes a workspace access token with auth.test and
// returns the workspace identity it authenticates as.
func (b *Bridge) VerifySlackCredential(credential string) (*slackapi.AuthTestResponse, error) {
	opts := []slackapi.Option{}
	if apiURL := b.getConfiguration().SlackAPIURL; apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slackapi.OptionAPIURL(apiURL))
	}

	client := slackapi.New(credential, opts...)
	response, err := client.AuthTest()
	if err != nil {
		return nil, errors.Wrap(err, "auth.test request failed")
	}
	return response, nil
}
