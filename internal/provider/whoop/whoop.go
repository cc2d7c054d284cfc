// Package whoop はウェアラブル（リカバリー）APIのクライアントを提供する。
package whoop

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider"
)

const (
	defaultAuthURL    = "https://api.prod.whoop.com/oauth/oauth2/auth"
	defaultTokenURL   = "https://api.prod.whoop.com/oauth/oauth2/token"
	defaultAPIBaseURL = "https://api.prod.whoop.com"

	workoutPath  = "/developer/v1/activity/workout"
	recoveryPath = "/developer/v1/recovery"
	sleepPath    = "/developer/v1/activity/sleep"

	// pageLimit はコレクション取得1回あたりの最大件数。
	pageLimit = 25
)

var scopes = []string{
	"offline_access",
	"read:recovery",
	"read:sleep",
	"read:workout",
	"read:cycle",
	"read:profile",
}

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

// Client はWHOOP APIクライアント。
type Client struct {
	config Config
	http   *provider.Client
	now    func() time.Time
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
	return &Client{config: config, http: httpClient, now: time.Now}
}

// Provider はmodel.ProviderWhoopを返す。
func (c *Client) Provider() model.Provider {
	return model.ProviderWhoop
}

// AuthorizeURL は認可画面のURLを生成する。
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。有効期限は相対秒で返る。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// ExchangeCode は認可コードをトークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.config.RedirectURL},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}
	return c.requestToken(ctx, "exchange_code", form)
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"scope":         {"offline"},
	}
	return c.requestToken(ctx, "refresh", form)
}

func (c *Client) requestToken(ctx context.Context, op string, form url.Values) (*provider.Token, error) {
	var resp tokenResponse
	if err := c.http.PostForm(ctx, op, c.config.TokenURL, form, provider.EndpointToken, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, c.http.AuthError(op, provider.ErrEmptyAccessToken)
	}
	return &provider.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		ExpiresAt:    c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// Workout はワークアウトレコード。
type Workout struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	SportID    int           `json:"sport_id"`
	ScoreState string        `json:"score_state"`
	Score      *WorkoutScore `json:"score"`
}

// WorkoutScore はワークアウトのスコア。未採点の場合は存在しない。
type WorkoutScore struct {
	Strain           float64 `json:"strain"`
	AverageHeartRate *int    `json:"average_heart_rate"`
	MaxHeartRate     *int    `json:"max_heart_rate"`
	Kilojoule        float64 `json:"kilojoule"`
}

// Recovery はリカバリーレコード。睡眠に紐づく。
type Recovery struct {
	CycleID    int64          `json:"cycle_id"`
	SleepID    int64          `json:"sleep_id"`
	UserID     int64          `json:"user_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ScoreState string         `json:"score_state"`
	Score      *RecoveryScore `json:"score"`
}

// RecoveryScore はリカバリーのスコア。
type RecoveryScore struct {
	UserCalibrating  bool     `json:"user_calibrating"`
	RecoveryScore    float64  `json:"recovery_score"`
	RestingHeartRate *float64 `json:"resting_heart_rate"`
	HRVRmssdMilli    *float64 `json:"hrv_rmssd_milli"`
}

// Sleep は睡眠レコード。リカバリーの日付決定に使用する。
type Sleep struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Nap       bool      `json:"nap"`
}

// Range は期間指定で取得したコレクション一式。
type Range struct {
	Workouts   []Workout
	Recoveries []Recovery
	Sleeps     []Sleep
}

// page はページングされたコレクションのレスポンス。
type page[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

// FetchRange は[start, end]のワークアウト・リカバリー・睡眠を全ページ取得する。
func (c *Client) FetchRange(ctx context.Context, accessToken string, start, end time.Time) (*Range, error) {
	workouts, err := fetchAll[Workout](ctx, c, "list_workouts", workoutPath, accessToken, start, end)
	if err != nil {
		return nil, err
	}
	recoveries, err := fetchAll[Recovery](ctx, c, "list_recovery", recoveryPath, accessToken, start, end)
	if err != nil {
		return nil, err
	}
	sleeps, err := fetchAll[Sleep](ctx, c, "list_sleep", sleepPath, accessToken, start, end)
	if err != nil {
		return nil, err
	}
	return &Range{Workouts: workouts, Recoveries: recoveries, Sleeps: sleeps}, nil
}

func fetchAll[T any](ctx context.Context, c *Client, op, path, accessToken string, start, end time.Time) ([]T, error) {
	var all []T
	nextToken := ""
	for {
		params := url.Values{
			"start": {start.UTC().Format(time.RFC3339)},
			"end":   {end.UTC().Format(time.RFC3339)},
			"limit": {fmt.Sprint(pageLimit)},
		}
		if nextToken != "" {
			params.Set("nextToken", nextToken)
		}

		var p page[T]
		if err := c.http.GetJSON(ctx, op, c.config.APIBaseURL+path+"?"+params.Encode(), accessToken, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Records...)

		if p.NextToken == "" || p.NextToken == nextToken {
			return all, nil
		}
		nextToken = p.NextToken
	}
}

// RecoveryDate はリカバリーの記録日（UTCの0時）を決定する。
// 紐づく睡眠の終了日を優先し、見つからない場合はレコード作成日を使用する。
func RecoveryDate(r Recovery, sleeps []Sleep) time.Time {
	for _, s := range sleeps {
		if s.ID == r.SleepID && !s.End.IsZero() {
			return truncateDay(s.End)
		}
	}
	return truncateDay(r.CreatedAt)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
