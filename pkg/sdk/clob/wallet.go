package clob

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
)

const defaultDerivationPath = "m/44'/60'/0'/0/0"

// LoadPrivateKey 加载签名私钥：优先使用十六进制私钥，
// 否则从助记词按派生路径推导。
func LoadPrivateKey(privateKeyHex, mnemonic, derivationPath string) (*ecdsa.PrivateKey, error) {
	if pk := strings.TrimSpace(privateKeyHex); pk != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "私钥格式非法")
		}
		return key, nil
	}

	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, errors.New("private_key 和 mnemonic 至少要配置一个")
	}
	if derivationPath = strings.TrimSpace(derivationPath); derivationPath == "" {
		derivationPath = defaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "助记词非法")
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "派生路径非法")
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "派生账户失败")
	}
	pkHex, err := w.PrivateKeyHex(acct)
	if err != nil {
		return nil, errors.Wrap(err, "导出私钥失败")
	}
	key, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, errors.Wrap(err, "派生私钥格式非法")
	}
	return key, nil
}
