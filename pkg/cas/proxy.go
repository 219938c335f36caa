// Package cas requests proxy tickets from a CAS 2.0 server.
package cas

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const responseLimit = 1 << 20

// ProxyTicketer obtains proxy tickets for a target service.
type ProxyTicketer interface {
	ProxyTicket(ctx context.Context, pgt, targetService string) (string, error)
}

// ProxyClient calls the CAS proxy endpoint.
type ProxyClient struct {
	client   *http.Client
	endpoint string
}

// NewProxyClient returns a client for serverPath+proxyPath.
func NewProxyClient(client *http.Client, serverPath, proxyPath string) *ProxyClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProxyClient{
		client:   client,
		endpoint: strings.TrimSuffix(serverPath, "/") + proxyPath,
	}
}

type serviceResponse struct {
	XMLName      xml.Name `xml:"serviceResponse"`
	ProxySuccess *struct {
		ProxyTicket string `xml:"proxyTicket"`
	} `xml:"proxySuccess"`
	ProxyFailure *struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"proxyFailure"`
}

// ProxyTicket requests a proxy ticket for targetService using the proxy
// granting ticket pgt.
func (c *ProxyClient) ProxyTicket(ctx context.Context, pgt, targetService string) (string, error) {
	if pgt == "" {
		return "", errors.New("no proxy granting ticket in session")
	}

	q := url.Values{}
	q.Set("targetService", targetService)
	q.Set("pgt", pgt)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create proxy request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "proxy request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return "", errors.Wrap(err, "failed to read proxy response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy endpoint answered with code %d", resp.StatusCode)
	}

	var sr serviceResponse
	if err := xml.Unmarshal(body, &sr); err != nil {
		return "", errors.Wrap(err, "failed to parse proxy response")
	}
	switch {
	case sr.ProxyFailure != nil:
		return "", fmt.Errorf("proxy ticket refused: %s %s", sr.ProxyFailure.Code, strings.TrimSpace(sr.ProxyFailure.Message))
	case sr.ProxySuccess == nil || strings.TrimSpace(sr.ProxySuccess.ProxyTicket) == "":
		return "", errors.New("proxy response has no ticket")
	}
	return strings.TrimSpace(sr.ProxySuccess.ProxyTicket), nil
}
