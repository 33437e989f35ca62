package modelrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

const TokenPath = "/SASLogon/oauth/token"

// Client talks to the model repository REST service.
type Client struct {
	Client *http.Client
	Addr   string
}

// NewClient returns a client authorized with a bearer token. A static token wins
// over username and password, which are exchanged through the password grant.
func NewClient(ctx context.Context, opts config.ModelRepo) (*Client, error) {
	addr := strings.TrimRight(opts.Host, "/")
	if addr == "" {
		return nil, errors.NewConfigInvalidError("model repository host is empty")
	}
	httpcli := http.DefaultClient
	switch {
	case opts.Token != "":
		httpcli = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}))
	case opts.Username != "":
		oauthconfig := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  addr + TokenPath,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
		token, err := oauthconfig.PasswordCredentialsToken(ctx, opts.Username, opts.Password)
		if err != nil {
			return nil, errors.NewAuthFailedError("model repository", err)
		}
		httpcli = oauthconfig.Client(ctx, token)
	}
	return &Client{Client: httpcli, Addr: addr}, nil
}

func (t *Client) request(ctx context.Context, method, path string, header map[string]string, body any, into any) (*http.Response, error) {
	url := t.Addr + path

	var reqbody io.Reader
	switch val := body.(type) {
	case io.Reader:
		reqbody = val
	case nil:
		reqbody = nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		reqbody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqbody)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("model repository request", "method", method, "url", url)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, errors.NewRemoteAPIError(http.StatusBadGateway, method, url, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodystr, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.NewRemoteAPIError(resp.StatusCode, method, url, string(bodystr))
	}
	if into != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
