package airdrop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// maxListBytes 限制地址列表响应体的大小。
const maxListBytes = 8 << 20

// Fetcher 获取收款地址列表。
type Fetcher interface {
	FetchAddresses(ctx context.Context, url string) ([]common.Address, error)
}

// HTTPFetcher 通过 HTTP GET 读取 JSON 字符串数组形式的地址列表。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 创建 HTTPFetcher，timeout <= 0 时不设置超时。
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// FetchAddresses 下载并解析地址列表，不做重试。
func (f *HTTPFetcher) FetchAddresses(ctx context.Context, url string) ([]common.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchError("invalid address list url", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchError("request address list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchError(fmt.Sprintf("HTTP error! status: %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fetchError("read address list", err)
	}

	var raw []string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fetchError("decode address list", err)
	}

	addresses := make([]common.Address, 0, len(raw))
	for i, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fetchError(fmt.Sprintf("entry %d is not an address: %q", i, s), nil)
		}
		addresses = append(addresses, common.HexToAddress(s))
	}
	return addresses, nil
}
