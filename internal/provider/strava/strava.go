// Package strava はアクティビティトラッカーAPIのクライアントを提供する。
package strava

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider"
)

const (
	defaultAuthURL    = "https://www.strava.com/oauth/authorize"
	defaultTokenURL   = "https://www.strava.com/oauth/token"
	defaultAPIBaseURL = "https://www.strava.com/api/v3"

	// perPage はアクティビティ一覧1ページあたりの件数。
	perPage = 100
	// maxPages は1回の一覧取得で辿る最大ページ数。
	maxPages = 20
)

// StreamKeys はHRR算出に必要なストリーム種別。
var StreamKeys = []string{"heartrate", "time"}

// Config はクライアント設定。
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// Client はStrava APIクライアント。
type Client struct {
	config Config
	http   *provider.Client
	logger *slog.Logger
}

// NewClient はClientを生成する。
func NewClient(config Config, httpClient *provider.Client) *Client {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	return &Client{config: config, http: httpClient, logger: slog.Default()}
}

// Provider はmodel.ProviderStravaを返す。
func (c *Client) Provider() model.Provider {
	return model.ProviderStrava
}

// AuthorizeURL は認可画面のURLを生成する。
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"read,activity:read,activity:read_all"},
		"state":         {state},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。有効期限は絶対UNIX秒で返る。
// athleteは認可コード交換時のみ含まれる。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
	Athlete      *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	GrantType    string `json:"grant_type"`
}

// ExchangeCode は認可コードをトークンに交換する。アスリートIDも返す。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	return c.requestToken(ctx, "exchange_code", tokenRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Code:         code,
		GrantType:    "authorization_code",
	})
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	return c.requestToken(ctx, "refresh", tokenRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	})
}

func (c *Client) requestToken(ctx context.Context, op string, body tokenRequest) (*provider.Token, error) {
	var resp tokenResponse
	if err := c.http.PostJSON(ctx, op, c.config.TokenURL, "", body, provider.EndpointToken, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, c.http.AuthError(op, provider.ErrEmptyAccessToken)
	}

	tok := &provider.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    time.Unix(resp.ExpiresAt, 0).UTC(),
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if resp.Athlete != nil {
		id := resp.Athlete.ID
		tok.AthleteID = &id
	}
	return tok, nil
}

// Activity はアクティビティ一覧の要素。
type Activity struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	StartDate        time.Time `json:"start_date"`
	ElapsedTime      int64     `json:"elapsed_time"` // 秒
	HasHeartrate     bool      `json:"has_heartrate"`
	AverageHeartrate *float64  `json:"average_heartrate"`
	MaxHeartrate     *float64  `json:"max_heartrate"`
}

// Elapsed はアクティビティの経過時間を返す。
func (a Activity) Elapsed() time.Duration {
	return time.Duration(a.ElapsedTime) * time.Second
}

// ListActivities はafterUnix以降に開始したアクティビティを全ページ取得する。
// maxPagesに達した場合はそこまでの結果を返し、警告ログを出す。
func (c *Client) ListActivities(ctx context.Context, accessToken string, afterUnix int64) ([]Activity, error) {
	var all []Activity
	for pageNum := 1; ; pageNum++ {
		params := url.Values{
			"after":    {fmt.Sprint(afterUnix)},
			"page":     {fmt.Sprint(pageNum)},
			"per_page": {fmt.Sprint(perPage)},
		}

		var page []Activity
		if err := c.http.GetJSON(ctx, "list_activities", c.config.APIBaseURL+"/athlete/activities?"+params.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) < perPage {
			return all, nil
		}
		if pageNum == maxPages {
			c.logger.Warn("アクティビティ一覧がページ上限に達したため残りを取得しません",
				slog.Int("max_pages", maxPages),
				slog.Int("fetched", len(all)),
				slog.Int64("after", afterUnix),
			)
			return all, nil
		}
	}
}

// Stream は1種類のストリームデータ。
type Stream struct {
	Data         []float64 `json:"data"`
	SeriesType   string    `json:"series_type"`
	OriginalSize int       `json:"original_size"`
}

// Streams はkey_by_type=trueで取得したストリームの集合。キーはストリーム種別。
type Streams map[string]Stream

// Series は指定種別のデータ列を返す。存在しない場合はnil。
func (s Streams) Series(key string) []float64 {
	if st, ok := s[key]; ok {
		return st.Data
	}
	return nil
}

// GetStreams はアクティビティの指定ストリームを取得する。
func (c *Client) GetStreams(ctx context.Context, accessToken string, activityID int64, keys []string) (Streams, error) {
	params := url.Values{
		"keys":        {strings.Join(keys, ",")},
		"key_by_type": {"true"},
	}
	rawURL := fmt.Sprintf("%s/activities/%d/streams?%s", c.config.APIBaseURL, activityID, params.Encode())

	var streams Streams
	if err := c.http.GetJSON(ctx, "get_streams", rawURL, accessToken, &streams); err != nil {
		return nil, err
	}
	return streams, nil
}
