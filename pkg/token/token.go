package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Signer 为每个活动生成和校验管理密钥。
// 密钥是活动ID在服务器密钥下的HMAC-SHA256，因此无需落库。
type Signer struct {
	secret []byte
}

// NewSecret 生成一个随机的32字节签名密钥（URL安全的Base64）
func NewSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("无法生成安全的密钥: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// NewSigner 使用给定的密钥创建Signer。secret 为空时生成一个随机密钥，
// 这意味着重启后之前签发的管理密钥全部失效。
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		var err error
		if secret, err = NewSecret(); err != nil {
			return nil, err
		}
	}
	return &Signer{secret: []byte(secret)}, nil
}

// AdminKey 返回programID对应的管理密钥（URL安全的Base64）。
func (s *Signer) AdminKey(programID string) (string, error) {
	if programID == "" {
		return "", errors.New("活动ID不能为空")
	}
	return base64.RawURLEncoding.EncodeToString(s.sign(programID)), nil
}

// Validate 以时间恒定的方式校验管理密钥。
func (s *Signer) Validate(programID, key string) bool {
	if programID == "" || key == "" {
		return false
	}
	actual, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return false
	}
	return hmac.Equal(s.sign(programID), actual)
}

func (s *Signer) sign(programID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("program-admin:"))
	mac.Write([]byte(programID))
	return mac.Sum(nil)
}
