package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/cache"
	"evsales-dashboard/database"
	"evsales-dashboard/database/types"
	"evsales-dashboard/helpers"
)

// YahooClient fetches daily closes and fundamentals from the Yahoo Finance JSON endpoints.
type YahooClient struct {
	fetcher  *Fetcher
	chartURL string // .../v8/finance/chart
	quoteURL string // .../v10/finance/quoteSummary
	now      func() time.Time
}

// NewYahooClient creates the market data client.
func NewYahooClient(fetcher *Fetcher, chartURL, quoteURL string) *YahooClient {
	return &YahooClient{
		fetcher:  fetcher,
		chartURL: strings.TrimRight(chartURL, "/"),
		quoteURL: strings.TrimRight(quoteURL, "/"),
		now:      time.Now,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// DailyCloses returns daily closes for symbol in [from, to], oldest first.
// Days without a close are skipped. Dates are the exchange-local trading day at midnight UTC.
func (c *YahooClient) DailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]types.StockQuote, error) {
	query := url.Values{
		"period1":  {strconv.FormatInt(from.Unix(), 10)},
		"period2":  {strconv.FormatInt(to.Unix(), 10)},
		"interval": {"1d"},
	}
	body, err := c.fetcher.Get(ctx, c.chartURL+"/"+url.PathEscape(symbol), query)
	if err != nil {
		return nil, err
	}
	return parseChart(body, symbol)
}

func parseChart(body []byte, symbol string) ([]types.StockQuote, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("chart %s: decode: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s", symbol, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart %s: %w", symbol, ErrNoData)
	}

	result := resp.Chart.Result[0]
	loc := time.UTC
	if tz := result.Meta.ExchangeTimezoneName; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	closes := result.Indicators.Quote[0].Close
	quotes := make([]types.StockQuote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		day := helpers.DayStart(time.Unix(ts, 0), loc)
		quotes = append(quotes, types.StockQuote{Date: day, Close: *closes[i]})
	}
	return quotes, nil
}

type rawValue struct {
	Raw *float64 `json:"raw"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				Currency  string   `json:"currency"`
				MarketCap rawValue `json:"marketCap"`
			} `json:"price"`
			FinancialData struct {
				TotalRevenue rawValue `json:"totalRevenue"`
				GrossProfits rawValue `json:"grossProfits"`
			} `json:"financialData"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Fundamentals returns market cap, revenue and gross profit for symbol.
// It returns nil, nil when the provider has no record of the ticker.
func (c *YahooClient) Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error) {
	body, err := c.fetcher.Get(ctx, c.quoteURL+"/"+url.PathEscape(symbol), url.Values{"modules": {"price,financialData"}})
	if err != nil {
		return nil, err
	}
	return parseQuoteSummary(body, symbol, c.now())
}

func parseQuoteSummary(body []byte, symbol string, now time.Time) (*types.Fundamentals, error) {
	var resp quoteSummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}
	if resp.QuoteSummary.Error != nil || len(resp.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	r := resp.QuoteSummary.Result[0]
	f := &types.Fundamentals{
		Symbol:      symbol,
		Currency:    r.Price.Currency,
		MarketCap:   r.Price.MarketCap.Raw,
		Revenue:     r.FinancialData.TotalRevenue.Raw,
		GrossProfit: r.FinancialData.GrossProfits.Raw,
		FetchedAt:   now,
	}
	if f.MarketCap == nil && f.Revenue == nil && f.GrossProfit == nil {
		return nil, nil
	}
	return f, nil
}

// FundamentalsSource is satisfied by YahooClient.
type FundamentalsSource interface {
	Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error)
}

// CachedFundamentals keeps provider answers in Redis for ttl. Without Redis it passes through.
type CachedFundamentals struct {
	next  FundamentalsSource
	redis *cache.RedisClient
	ttl   time.Duration
}

// NewCachedFundamentals wraps next with a Redis cache. ttl <= 0 uses the default.
func NewCachedFundamentals(next FundamentalsSource, redis *cache.RedisClient, ttl time.Duration) *CachedFundamentals {
	if ttl <= 0 {
		ttl = database.FundamentalsCacheTTL
	}
	return &CachedFundamentals{next: next, redis: redis, ttl: ttl}
}

// Fundamentals implements aggregator.FundamentalsProvider.
func (c *CachedFundamentals) Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error) {
	key := "fundamentals:" + symbol

	var cached types.Fundamentals
	if err := c.redis.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	f, err := c.next.Fundamentals(ctx, symbol)
	if err != nil || f == nil {
		return f, err
	}
	if err := c.redis.Set(ctx, key, f, c.ttl); err != nil && err != cache.ErrUnavailable {
		zap.L().Debug("Fundamentals cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return f, nil
}
