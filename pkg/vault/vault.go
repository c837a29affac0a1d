package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"

	"golang.org/x/crypto/scrypt"

	"wallet-ext/pkg/crypto_util"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/safe_random"
)

// EncryptedKeyRecord 是钱包私钥的持久化加密记录 (walletData)。
// 结构遵循 Ethereum Keystore V3 的风格，额外携带派生出的地址，
// 方便在未解锁状态下展示。记录一旦写入即不可变，重建/导入钱包时整体替换。
type EncryptedKeyRecord struct {
	Address string     `json:"address"`
	Crypto  CryptoJSON `json:"crypto"`
	Id      string     `json:"id"`      // UUID
	Version int        `json:"version"` // 3
}

type CryptoJSON struct {
	Cipher       string       `json:"cipher"`       // "aes-256-gcm"
	CipherText   string       `json:"ciphertext"`   // Hex string
	CipherParams CipherParams `json:"cipherparams"` // IV
	KDF          string       `json:"kdf"`          // "scrypt"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"` // Hex string
}

type CipherParams struct {
	IV string `json:"iv"` // Hex string
}

type KDFParams struct {
	DKLen int    `json:"dklen"` // Derived Key Length (32)
	N     int    `json:"n"`     // Scrypt N (262144)
	R     int    `json:"r"`     // Scrypt r (8)
	P     int    `json:"p"`     // Scrypt p (1)
	Salt  string `json:"salt"`  // Hex string
}

const (
	scryptN     = 262144
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32
)

// DeriveKey 从密码和盐派生对称密钥。确定性且故意很慢 (内存/CPU 密集)。
func DeriveKey(password string, salt []byte, params KDFParams) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
}

// Encrypt 使用密码加密私钥字节，生成一条新的加密记录。
// 每次调用都生成全新的随机 Salt 和 GCM Nonce，绝不复用。
func Encrypt(privKey []byte, address string, password string) (*EncryptedKeyRecord, error) {
	salt, err := safe_random.GenerateRandomBytes(32)
	if err != nil {
		return nil, err
	}

	params := KDFParams{
		DKLen: scryptDKLen,
		N:     scryptN,
		R:     scryptR,
		P:     scryptP,
		Salt:  hex.EncodeToString(salt),
	}
	derivedKey, err := DeriveKey(password, salt, params)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce, err := safe_random.GenerateRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, privKey, nil)

	// MAC = keccak256(derivedKey[16:32] + ciphertext)，同 Eth V3 标准。
	// GCM 的认证 Tag 已经覆盖篡改检测，MAC 让记录保持 V3 工具可校验的形状。
	mac := crypto_util.Keccak256(append(derivedKey[16:32], ciphertext...))

	id, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return nil, err
	}

	return &EncryptedKeyRecord{
		Address: address,
		Version: 3,
		Id:      id,
		Crypto: CryptoJSON{
			Cipher:     "aes-256-gcm",
			CipherText: hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{
				IV: hex.EncodeToString(nonce),
			},
			KDF:       "scrypt",
			KDFParams: params,
			MAC:       hex.EncodeToString(mac),
		},
	}, nil
}

// Decrypt 使用密码解密记录中的私钥。
// 密码错误与记录损坏统一返回 errno.ErrInvalidPassword —
// 调用方无法 (也不应该能) 区分两者。
func Decrypt(record *EncryptedKeyRecord, password string) ([]byte, error) {
	salt, err := hex.DecodeString(record.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}
	nonce, err := hex.DecodeString(record.Crypto.CipherParams.IV)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}
	ciphertext, err := hex.DecodeString(record.Crypto.CipherText)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}
	mac, err := hex.DecodeString(record.Crypto.MAC)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}

	derivedKey, err := DeriveKey(password, salt, record.Crypto.KDFParams)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}

	if len(derivedKey) < 32 {
		return nil, errno.ErrInvalidPassword
	}
	calculated := crypto_util.Keccak256(append(derivedKey[16:32], ciphertext...))
	if subtle.ConstantTimeCompare(mac, calculated) != 1 {
		return nil, errno.ErrInvalidPassword
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errno.ErrInvalidPassword
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// 认证 Tag 不匹配。密码错 / 数据损坏在这里汇成同一个信号。
		return nil, errno.ErrInvalidPassword
	}

	return plaintext, nil
}

// SaveToFile 保存到文件。这是 walletData 记录唯一的写入路径。
func (k *EncryptedKeyRecord) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600) // 0600 is important
}

// LoadFromFile 从文件加载。文件不存在返回 errno.ErrNoWalletFound。
func LoadFromFile(filename string) (*EncryptedKeyRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errno.ErrNoWalletFound
		}
		return nil, err
	}
	var k EncryptedKeyRecord
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, errno.ErrInvalidPassword // 记录损坏，与密码错误同信号
	}
	return &k, nil
}

// Exists 判断 walletData 记录是否存在
func Exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// Zero 将字节切片清零。在持有私钥明文的缓冲区用完后调用。
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
