package ai

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const aliyunMTEndpoint = "https://mt.cn-hangzhou.aliyuncs.com/"

// AliyunProvider implements TranslateProvider with Alibaba Cloud machine
// translation (TranslateGeneral, RPC signature v1).
type AliyunProvider struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	HTTPClient      *http.Client

	now   func() time.Time
	nonce func() string
}

// NewAliyunProvider creates a translator with the production endpoint.
func NewAliyunProvider(keyID, secret string) (*AliyunProvider, error) {
	if keyID == "" || secret == "" {
		return nil, errors.New("aliyun: access key not configured")
	}
	return &AliyunProvider{
		AccessKeyID:     keyID,
		AccessKeySecret: secret,
		Endpoint:        aliyunMTEndpoint,
		HTTPClient:      http.DefaultClient,
	}, nil
}

func (p *AliyunProvider) params(text, targetLang string) url.Values {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	nonce := uuid.NewString
	if p.nonce != nil {
		nonce = p.nonce
	}
	v := url.Values{}
	v.Set("Format", "JSON")
	v.Set("Version", "2018-10-12")
	v.Set("AccessKeyId", p.AccessKeyID)
	v.Set("SignatureMethod", "HMAC-SHA1")
	v.Set("Timestamp", now().UTC().Format("2006-01-02T15:04:05Z"))
	v.Set("SignatureVersion", "1.0")
	v.Set("SignatureNonce", nonce())
	v.Set("Action", "TranslateGeneral")
	v.Set("FormatType", "text")
	v.Set("SourceLanguage", "auto")
	v.Set("TargetLanguage", targetLang)
	v.Set("SourceText", text)
	v.Set("Scene", "general")
	return v
}

// aliyunEscape applies the RFC 3986 encoding required by the signer.
func aliyunEscape(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	e = strings.ReplaceAll(e, "*", "%2A")
	return strings.ReplaceAll(e, "%7E", "~")
}

func canonicalQuery(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, aliyunEscape(k)+"="+aliyunEscape(v.Get(k)))
	}
	return strings.Join(pairs, "&")
}

// sign returns the base64 HMAC-SHA1 signature for a POST request.
func sign(method, secret string, v url.Values) string {
	toSign := method + "&" + aliyunEscape("/") + "&" + aliyunEscape(canonicalQuery(v))
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Translate implements TranslateProvider.
func (p *AliyunProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	v := p.params(text, targetLang)
	v.Set("Signature", sign(http.MethodPost, p.AccessKeySecret, v))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(v.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("aliyun translate: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("aliyun translate: %w", &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))})
	}

	var out struct {
		Code    json.Number `json:"Code"`
		Message string      `json:"Message"`
		Data    struct {
			Translated string `json:"Translated"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("aliyun translate: decode: %w", err)
	}
	if out.Code.String() != "200" {
		return "", fmt.Errorf("aliyun translate: code %s: %s", out.Code, out.Message)
	}
	return out.Data.Translated, nil
}
