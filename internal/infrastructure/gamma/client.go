package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/pkg/cache"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/marketspec"
)

var log = logrus.WithField("component", "gamma")

const (
	endpointEvents = "/events"

	// 当前周期 + 下一个周期
	candidateCount = 2

	// 已关闭的市场不会再变；不存在的 slug 很快会被创建，只短暂缓存
	closedTTL   = 10 * time.Minute
	openTTL     = 30 * time.Second
	notFoundTTL = 5 * time.Second
)

type lookup struct {
	market *gammaMarket
	closed bool
}

// Client Gamma 市场发现，实现 ports.MarketDiscovery
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	cache   *cache.TTL[string, lookup]
	now     func() time.Time
}

var _ ports.MarketDiscovery = (*Client)(nil)

func New(ex config.ExchangeConfig) *Client {
	timeout := time.Duration(ex.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpc := resty.New().
		SetBaseURL(strings.TrimSuffix(ex.GammaHost, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		// 浏览器 UA，避免被 Cloudflare 拦截
		SetHeader("User-Agent", "Mozilla/5.0")
	c := &Client{
		http:    httpc,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		now:     time.Now,
	}
	c.cache = cache.NewTTL[string, lookup](func() time.Time { return c.now() })
	return c
}

// cached fetch 加一层 TTL 缓存；定时器每几秒就会查一次候选 slug
func (c *Client) cached(ctx context.Context, slug string) (*gammaMarket, bool, error) {
	if hit, ok := c.cache.Get(slug); ok {
		return hit.market, hit.closed, nil
	}
	gm, closed, err := c.fetch(ctx, slug)
	if err != nil {
		return nil, false, err
	}
	ttl := openTTL
	switch {
	case gm == nil:
		ttl = notFoundTTL
	case closed:
		ttl = closedTTL
	}
	c.cache.Set(slug, lookup{market: gm, closed: closed}, ttl)
	return gm, closed, nil
}

// jsonList Gamma 的列表字段经常是“JSON 字符串里再套一层数组”
type jsonList []string

func (l *jsonList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*l = nil
			return nil
		}
		b = []byte(s)
	}
	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*l = vals
	return nil
}

type gammaMarket struct {
	Slug         string   `json:"slug"`
	ConditionID  string   `json:"conditionId"`
	Question     string   `json:"question"`
	Outcomes     jsonList `json:"outcomes"`
	ClobTokenIDs jsonList `json:"clobTokenIds"`
	EndDate      string   `json:"endDate"`
	Closed       bool     `json:"closed"`
}

type gammaEvent struct {
	Slug    string        `json:"slug"`
	Closed  bool          `json:"closed"`
	Markets []gammaMarket `json:"markets"`
}

// toMarket 转换成领域模型。YES 腿取 outcome 为 Up/Yes 的 token，找不到时按第一个。
// 市场本身没有 slug 时用查询的 slug。
func (m *gammaMarket) toMarket(instrument, slug string) (*domain.Market, error) {
	if m.Slug != "" {
		slug = m.Slug
	}
	if len(m.ClobTokenIDs) != 2 {
		return nil, errors.Errorf("market %s: expected 2 token ids, got %d", slug, len(m.ClobTokenIDs))
	}
	yes := 0
	for i, o := range m.Outcomes {
		if i > 1 {
			break
		}
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "up", "yes":
			yes = i
		}
	}
	end, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return nil, errors.Wrapf(err, "market %s: parse endDate %q", slug, m.EndDate)
	}
	return &domain.Market{
		Slug:        slug,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Instrument:  instrument,
		YesTokenID:  m.ClobTokenIDs[yes],
		NoTokenID:   m.ClobTokenIDs[1-yes],
		EndTime:     end,
	}, nil
}

// fetch 按 slug 查事件，返回 slug 完全匹配的市场（否则第一个）。没有这个事件时返回 nil。
func (c *Client) fetch(ctx context.Context, slug string) (*gammaMarket, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	var events []gammaEvent
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("slug", slug).SetResult(&events).Get(endpointEvents)
	if err != nil {
		return nil, false, errors.Wrapf(err, "gamma events %s", slug)
	}
	if resp.IsError() {
		return nil, false, errors.Errorf("gamma events %s: HTTP %d: %s", slug, resp.StatusCode(), resp.String())
	}
	if len(events) == 0 {
		return nil, false, nil
	}
	var chosen *gammaMarket
	for i := range events {
		for j := range events[i].Markets {
			if events[i].Markets[j].Slug == slug {
				chosen = &events[i].Markets[j]
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		if len(events[0].Markets) == 0 {
			return nil, false, nil
		}
		chosen = &events[0].Markets[0]
	}
	return chosen, events[0].Closed || chosen.Closed, nil
}

// instrumentOf slug 前缀就是标的
func instrumentOf(slug string) string {
	if i := strings.IndexByte(slug, '-'); i > 0 {
		return slug[:i]
	}
	return ""
}

// MarketBySlug 按 slug 解析市场（包括已关闭的，孤儿周期恢复时用）
func (c *Client) MarketBySlug(ctx context.Context, slug string) (*domain.Market, error) {
	gm, _, err := c.cached(ctx, slug)
	if err != nil {
		return nil, err
	}
	if gm == nil {
		return nil, errors.Wrapf(ports.ErrNoActiveMarket, "slug %s", slug)
	}
	return gm.toMarket(instrumentOf(slug), slug)
}

// FindActiveMarket 从当前周期起依次尝试，返回第一个未关闭、未到期的市场
func (c *Client) FindActiveMarket(ctx context.Context, inst marketspec.Instrument, tf marketspec.Timeframe) (*domain.Market, error) {
	spec := marketspec.MarketSpec{Instrument: inst, Timeframe: tf}
	now := c.now()
	for _, slug := range spec.CandidateSlugs(now, candidateCount) {
		gm, closed, err := c.cached(ctx, slug)
		if err != nil {
			return nil, err
		}
		if gm == nil || closed {
			log.WithField("slug", slug).Debug("市场不存在或已关闭")
			continue
		}
		m, err := gm.toMarket(inst.String(), slug)
		if err != nil {
			log.WithError(err).Warn("市场数据无效，跳过")
			continue
		}
		if !m.EndTime.After(now) {
			continue
		}
		return m, nil
	}
	return nil, ports.ErrNoActiveMarket
}
