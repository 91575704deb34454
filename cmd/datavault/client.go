package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

type sessionKind int

const (
	noSession sessionKind = iota
	userSession
	companySession
)

// Client talks to the DataVault API.
type Client struct {
	http *resty.Client
}

func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("DATAVAULT_ADDR"); v != "" {
		addr = v
	}
	return &Client{
		http: resty.New().
			SetBaseURL(addr).
			SetTimeout(30 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *Client) request(kind sessionKind) *resty.Request {
	req := c.http.R()
	switch kind {
	case userSession:
		token := cfg.UserToken
		if v := os.Getenv("DATAVAULT_USER_TOKEN"); v != "" {
			token = v
		}
		req.SetAuthToken(token)
	case companySession:
		token := cfg.CompanyToken
		if v := os.Getenv("DATAVAULT_COMPANY_TOKEN"); v != "" {
			token = v
		}
		req.SetAuthToken(token)
	}
	return req
}

func (c *Client) get(kind sessionKind, path string) (map[string]any, error) {
	resp, err := c.request(kind).Get(path)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(kind sessionKind, path string, body any) (map[string]any, error) {
	resp, err := c.request(kind).SetBody(body).Post(path)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) put(kind sessionKind, path string, body any) (map[string]any, error) {
	resp, err := c.request(kind).SetBody(body).Put(path)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) delete(kind sessionKind, path string) error {
	resp, err := c.request(kind).Delete(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		_, err := parseResponse(resp)
		return err
	}
	return nil
}

// postAsCompanyKey sends a request authenticated with the company's
// clientID/secret API key rather than a dashboard session.
func (c *Client) postAsCompanyKey(path string, secretKey string, body any) (map[string]any, error) {
	resp, err := c.http.R().
		SetHeader("X-Vault-Key", secretKey).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) getAsCompanyKey(path, secretKey, bearer string) (map[string]any, error) {
	resp, err := c.http.R().
		SetHeader("X-Vault-Key", secretKey).
		SetAuthToken(bearer).
		Get(path)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// uploadDocument sends a multipart document to the vault.
func (c *Client) uploadDocument(documentType, file string) (map[string]any, error) {
	resp, err := c.request(userSession).
		SetFile("file", file).
		SetFormData(map[string]string{"document_type": documentType}).
		Post("/v1/vault/documents")
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func parseResponse(resp *resty.Response) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		if resp.IsError() {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.Body())
		}
		// 204s and other empty successes
		return map[string]any{}, nil
	}
	if resp.IsError() {
		if msg, ok := result["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return result, nil
}
