// Package remote synchronizes the store file with a Dropbox account.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/observability"
)

// ErrNotAuthorized is returned when no usable Dropbox credentials exist.
var ErrNotAuthorized = errors.New("dropbox is not authorized")

// TempSuffix is appended to the destination while a download is in flight.
const TempSuffix = ".temp"

const (
	defaultAPIURL     = "https://api.dropboxapi.com"
	defaultContentURL = "https://content.dropboxapi.com"
	defaultAuthURL    = "https://www.dropbox.com/oauth2/authorize"
	defaultTokenURL   = "https://api.dropboxapi.com/oauth2/token"
	defaultTimeout    = 2 * time.Minute
)

// Options configures the Dropbox client
type Options struct {
	APIURL       string
	ContentURL   string
	AuthURL      string
	TokenURL     string
	AppKey       string
	AppSecret    string
	RefreshToken string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *observability.Logger
}

// Client talks to the Dropbox HTTP API v2
type Client struct {
	opts       Options
	oauth      *oauth2.Config
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *observability.Logger
}

// NewClient creates a Dropbox client. Missing credentials are reported by
// each call as ErrNotAuthorized rather than here.
func NewClient(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = defaultAPIURL
	}
	if opts.ContentURL == "" {
		opts.ContentURL = defaultContentURL
	}
	if opts.AuthURL == "" {
		opts.AuthURL = defaultAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = defaultTokenURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	opts.ContentURL = strings.TrimRight(opts.ContentURL, "/")

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	c := &Client{
		opts: opts,
		oauth: &oauth2.Config{
			ClientID:     opts.AppKey,
			ClientSecret: opts.AppSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: logger.WithComponent("remote"),
	}

	if c.Authorized() {
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		c.tokens = c.oauth.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: opts.RefreshToken})
		c.httpClient = oauth2.NewClient(tokenCtx, c.tokens)
	}
	return c
}

// Authorized reports whether the client holds a complete credential triple
func (c *Client) Authorized() bool {
	return c.opts.AppKey != "" && c.opts.AppSecret != "" && c.opts.RefreshToken != ""
}

// AuthorizeURL returns the page where the user grants access and obtains a code
func (c *Client) AuthorizeURL() string {
	return c.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("token_access_type", "offline"))
}

// Exchange trades an authorization code for a long-lived refresh token
func (c *Client) Exchange(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", domain.ValidationError("authorization code cannot be empty", nil)
	}
	if c.opts.AppKey == "" || c.opts.AppSecret == "" {
		return "", domain.ConfigError("app key and secret are required", ErrNotAuthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if c.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
	}

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", domain.SyncError("Failed to exchange authorization code", err)
	}
	if tok.RefreshToken == "" {
		return "", domain.SyncError("Dropbox did not return a refresh token", nil)
	}
	return tok.RefreshToken, nil
}

// apiArg is the JSON carried in the Dropbox-API-Arg header
type apiArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode,omitempty"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

// Upload stores the local file at remotePath, overwriting any existing file
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if !c.Authorized() {
		return ErrNotAuthorized
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return domain.IOError(fmt.Sprintf("Failed to read %s", localPath), err)
	}

	resp, err := c.contentCall(ctx, "/2/files/upload", apiArg{Path: remotePath, Mode: "overwrite", Mute: true}, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info().Str("remote_path", remotePath).Int("bytes", len(data)).Msg("uploaded to dropbox")
	return nil
}

// Download fetches remotePath into dest. The bytes land in dest+".temp"
// first and replace dest only once fully written.
func (c *Client) Download(ctx context.Context, remotePath, dest string) error {
	if !c.Authorized() {
		return ErrNotAuthorized
	}

	resp, err := c.contentCall(ctx, "/2/files/download", apiArg{Path: remotePath}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp := dest + TempSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return domain.IOError("Failed to create temp file", err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return domain.SyncError("Failed to download file", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return domain.IOError("Failed to replace local file", err)
	}

	c.logger.Info().Str("remote_path", remotePath).Int64("bytes", n).Msg("downloaded from dropbox")
	return nil
}

// Account returns the display name of the linked account
func (c *Client) Account(ctx context.Context) (string, error) {
	if !c.Authorized() {
		return "", ErrNotAuthorized
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL+"/2/users/get_current_account", nil)
	if err != nil {
		return "", domain.SyncError("Failed to create request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var account struct {
		Name struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return "", domain.SyncError("Failed to decode account", err)
	}
	if account.Name.DisplayName != "" {
		return account.Name.DisplayName, nil
	}
	return account.Email, nil
}

// contentCall performs a content-endpoint request. The caller closes the body
// of a successful response; the per-call timeout covers reading it.
func (c *Client) contentCall(ctx context.Context, endpoint string, arg apiArg, body []byte) (*http.Response, error) {
	header, err := json.Marshal(arg)
	if err != nil {
		return nil, domain.SyncError("Failed to encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.ContentURL+endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, domain.SyncError("Failed to create request", err)
	}
	req.Header.Set("Dropbox-API-Arg", string(header))
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, c.transportError(err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) transportError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return domain.SyncError("Dropbox rejected the stored credentials", fmt.Errorf("%w: %v", ErrNotAuthorized, rerr))
	}
	return domain.SyncError("Dropbox request failed", err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("Dropbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusUnauthorized {
		return domain.SyncError(msg, ErrNotAuthorized)
	}
	return domain.SyncError(msg, nil)
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
