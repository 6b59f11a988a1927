package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/pairbot/pkg/config"
)

const (
	clobDomainName = "ClobAuthDomain"
	clobVersion    = "1"
	clobAuthMsg    = "This message attests that I control the given wallet"
)

// LoadPrivateKey 私钥（hex）优先，否则从助记词按派生路径推导
func LoadPrivateKey(w config.WalletConfig) (*ecdsa.PrivateKey, error) {
	if pk := strings.TrimPrefix(strings.TrimSpace(w.PrivateKey), "0x"); pk != "" {
		key, err := crypto.HexToECDSA(pk)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		return key, nil
	}
	mnemonic := strings.TrimSpace(w.Mnemonic)
	if mnemonic == "" {
		return nil, fmt.Errorf("私钥和助记词都未配置")
	}
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(w.DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	return wallet.PrivateKey(acct)
}

// l2Signature L2 认证：HMAC-SHA256(secret, ts+method+path+body)，结果为 url-safe base64
func l2Signature(secret string, ts int64, method, path, body string) (string, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimSpace(secret))
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(ts, 10) + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.NewReplacer("+", "-", "/", "_").Replace(sig), nil
}

// clobAuthSignature L1 认证：EIP712 ClobAuth 签名（创建/推导 API key 用）
func clobAuthSignature(key *ecdsa.PrivateKey, chainID, ts, nonce int64) (string, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    clobDomainName,
			Version: clobVersion,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   crypto.PubkeyToAddress(key.PublicKey).Hex(),
			"timestamp": strconv.FormatInt(ts, 10),
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthMsg,
		},
	}
	domainSep, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("计算域分隔符失败: %w", err)
	}
	msgHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return "", fmt.Errorf("计算消息哈希失败: %w", err)
	}
	raw := append([]byte("\x19\x01"), domainSep...)
	raw = append(raw, msgHash...)
	sig, err := crypto.Sign(crypto.Keccak256(raw), key)
	if err != nil {
		return "", fmt.Errorf("签名失败: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}
