package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ============================================================================
// 凭据保险库
// ============================================================================
//
// 库存账号的密码只以密文落库，密文格式：nonce ‖ ciphertext+tag
// 调用方拿到的是一个不透明的 blob，不接触任何密码学参数
//
// 【重要】
// 1. 密钥在进程启动时由运营主密钥派生一次，整个生命周期驻留内存，
//    绝不打日志、绝不返回给任何客户端、绝不随密文落库
// 2. AEAD 认证失败（数据被篡改或密钥不对）必须报 ErrCipherInvalid，
//    绝不静默返回乱码明文
// 3. 解密只在向账单所有者交付其账号时发生，后台批量列表不解密
// ============================================================================

var ErrCipherInvalid = errors.New("密文无效或密钥不匹配")

// scrypt 派生参数固定写死：改了参数老密文就解不开了
var kdfSalt = []byte("digishop/vault/v1")

const (
	kdfN = 1 << 15
	kdfR = 8
	kdfP = 1
)

// Vault 对称加密边界
type Vault struct {
	aead cipher.AEAD
}

// New 由运营主密钥派生对称密钥并构造保险库
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret 不能为空")
	}

	key, err := scrypt.Key([]byte(secret), kdfSalt, kdfN, kdfR, kdfP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AEAD 失败: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt 加密明文，返回 nonce ‖ ciphertext+tag
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("生成随机 nonce 失败: %w", err)
	}

	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt 解密 blob
// blob 格式不对或认证标签校验失败一律返回 ErrCipherInvalid
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < v.aead.NonceSize()+v.aead.Overhead() {
		return nil, ErrCipherInvalid
	}

	nonce, ciphertext := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCipherInvalid
	}
	return plaintext, nil
}
