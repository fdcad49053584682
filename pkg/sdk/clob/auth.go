package clob

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/betbot/copyflow/pkg/sdk/httpx"
)

// CLOB 两级鉴权：
//   L1: 钱包私钥做 EIP-712 签名，换取 API 凭证
//   L2: 每个请求用凭证 secret 做 HMAC-SHA256 签名

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"
)

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// authSigner 持有私钥与派生出的 API 凭证
type authSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu    sync.Mutex
	creds *apiCredentials
}

func newAuthSigner(key *ecdsa.PrivateKey) *authSigner {
	return &authSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth 对 ClobAuth 类型化数据做 EIP-712 签名（L1）
func (a *authSigner) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", errors.Errorf("nonce 非法: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(a.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), a.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig), nil
}

// ensureCreds 按需派生（并缓存）API 凭证
func (a *authSigner) ensureCreds(ctx context.Context, http *httpx.Client) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.signClobAuth(ts, "0")
	if err != nil {
		return errors.Wrap(err, "L1 签名失败")
	}

	var creds apiCredentials
	resp, err := http.DoRequest(ctx, "GET", "/auth/derive-api-key", &httpx.RequestOptions{
		Headers: map[string]string{
			"POLY_ADDRESS":   a.address.Hex(),
			"POLY_SIGNATURE": sig,
			"POLY_TIMESTAMP": ts,
			"POLY_NONCE":     "0",
		},
	}, &creds)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return errors.Wrap(err, "派生 API 凭证失败")
	}
	a.creds = &creds
	return nil
}

// l2Headers 生成一次 L2 请求的鉴权头。body 必须与实际发送的
// 请求体字节一致，否则 HMAC 校验不过。
func (a *authSigner) l2Headers(method, path string, body []byte) (map[string]string, error) {
	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()
	if creds == nil {
		return nil, errors.New("API 凭证尚未派生")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + string(body)

	secretBytes, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "解码 secret 失败")
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

func marshalBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
