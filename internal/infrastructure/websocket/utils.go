package websocket

import (
	"errors"
	"os"
	"strings"

	"github.com/betbot/pairbot/internal/domain"
)

// parsePriceBytes 直接从字节解析价格，精度 1e-4（第 5 位四舍五入），不分配内存
func parsePriceBytes(b []byte) (domain.Price, error) {
	i, n := 0, len(b)
	for i < n && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	if i >= n {
		return domain.Price{}, errors.New("empty price")
	}

	intPart, digits := 0, 0
	for i < n && b[i] >= '0' && b[i] <= '9' {
		intPart = intPart*10 + int(b[i]-'0')
		digits++
		i++
	}

	frac, fracDigits := 0, 0
	roundUp := false
	if i < n && b[i] == '.' {
		i++
		for i < n && fracDigits < 4 && b[i] >= '0' && b[i] <= '9' {
			frac = frac*10 + int(b[i]-'0')
			fracDigits++
			i++
		}
		if i < n && b[i] >= '5' && b[i] <= '9' {
			roundUp = true
		}
		for i < n && b[i] >= '0' && b[i] <= '9' {
			i++
		}
	}
	if digits == 0 && fracDigits == 0 {
		return domain.Price{}, errors.New("invalid price")
	}
	for i < n && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	if i != n {
		return domain.Price{}, errors.New("invalid price")
	}

	for fracDigits < 4 {
		frac *= 10
		fracDigits++
	}
	pips := intPart*10000 + frac
	if roundUp {
		pips++
	}
	return domain.Price{Pips: pips}, nil
}

func parsePriceString(s string) (domain.Price, error) {
	return parsePriceBytes([]byte(s))
}

// getProxyFromEnv 从环境变量获取代理 URL
func getProxyFromEnv() string {
	for _, v := range []string{"HTTPS_PROXY", "HTTP_PROXY", "https_proxy", "http_proxy"} {
		if proxy := strings.TrimSpace(os.Getenv(v)); proxy != "" {
			return proxy
		}
	}
	return ""
}
