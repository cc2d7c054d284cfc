// Package provider は外部フィットネスプラットフォームAPIを呼び出すための共通HTTP処理を提供する。
// 全リクエストはプロバイダーごとのレートリミッターを通過し、失敗はmodel.ProviderErrorとして返る。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"golang.org/x/time/rate"
)

// maxResponseSize はレスポンスボディの最大読み込みサイズ（10MB）。
const maxResponseSize = 10 * 1024 * 1024

// Token はトークンエンドポイントから取得した認可情報を表す。
// ExpiresAtはプロバイダーごとの表現（相対秒・絶対UNIX時刻）を絶対時刻に正規化した値。
type Token struct {
	AccessToken  string
	RefreshToken string // 応答に含まれない場合は空
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	AthleteID    *int64
}

// EndpointKind はリクエスト先の種類。ステータスコードの分類に使用する。
type EndpointKind int

const (
	// EndpointData はデータ取得API。
	EndpointData EndpointKind = iota
	// EndpointToken はトークン交換・リフレッシュAPI。
	EndpointToken
)

// ClassifyHTTPStatus は非成功ステータスコードをエラー種別に分類する。
// 401/403は常に認可エラー、400はトークンエンドポイントの場合のみ認可エラーとする（invalid_grant）。
// 429/5xxおよびその他は通信エラーとして扱う。
func ClassifyHTTPStatus(statusCode int, kind EndpointKind) model.ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return model.ErrorKindAuth
	case statusCode == http.StatusBadRequest && kind == EndpointToken:
		return model.ErrorKindAuth
	default:
		return model.ErrorKindTransport
	}
}

// Client はプロバイダー1つ分のHTTPクライアント。
type Client struct {
	provider model.Provider
	http     *http.Client
	limiter  *rate.Limiter
	maxBody  int64
}

// NewClient はClientを生成する。
// httpClientがnilの場合はhttp.DefaultClient、limiterがnilの場合は無制限として扱う。
func NewClient(p model.Provider, httpClient *http.Client, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{provider: p, http: httpClient, limiter: limiter, maxBody: maxResponseSize}
}

// NewLimiter は1秒あたりperSecond回のリクエストを許可するリミッターを生成する。
func NewLimiter(perSecond float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Provider はこのクライアントの呼び出し先プロバイダーを返す。
func (c *Client) Provider() model.Provider {
	return c.provider
}

// GetJSON はBearerトークン付きでGETし、JSONレスポンスをoutにデコードする。
func (c *Client) GetJSON(ctx context.Context, op, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return c.transportError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, op, EndpointData, out)
}

// PostForm はフォームエンコードのボディでPOSTし、JSONレスポンスをoutにデコードする。
func (c *Client) PostForm(ctx context.Context, op, rawURL string, form url.Values, kind EndpointKind, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return c.transportError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req, op, kind, out)
}

// PostJSON はJSONボディでPOSTし、JSONレスポンスをoutにデコードする。
// accessTokenが空でない場合はBearerトークンを付与する。
func (c *Client) PostJSON(ctx context.Context, op, rawURL, accessToken string, body any, kind EndpointKind, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return c.transportError(op, 0, fmt.Errorf("failed to encode request body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return c.transportError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.do(req, op, kind, out)
}

func (c *Client) do(req *http.Request, op string, kind EndpointKind, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return c.transportError(op, 0, fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(op, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// 上限を1バイト超えて読み、切り詰めをパースエラーと区別する
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return c.transportError(op, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		return c.transportError(op, resp.StatusCode, fmt.Errorf("%w (limit %d bytes)", ErrResponseTooLarge, c.maxBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &model.ProviderError{
			Provider:   c.provider,
			Op:         op,
			Kind:       ClassifyHTTPStatus(resp.StatusCode, kind),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncate(body, 200)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.transportError(op, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func (c *Client) transportError(op string, status int, err error) error {
	return &model.ProviderError{
		Provider:   c.provider,
		Op:         op,
		Kind:       model.ErrorKindTransport,
		StatusCode: status,
		Err:        err,
	}
}

// AuthError はレスポンス内容の不備による認可エラーを生成する。
func (c *Client) AuthError(op string, err error) error {
	return &model.ProviderError{
		Provider: c.provider,
		Op:       op,
		Kind:     model.ErrorKindAuth,
		Err:      err,
	}
}

// ErrResponseTooLarge はレスポンスボディが読み込み上限を超えたことを示す。
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// ErrEmptyAccessToken はトークン応答にアクセストークンが含まれないことを示す。
var ErrEmptyAccessToken = errors.New("empty access token in response")

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
