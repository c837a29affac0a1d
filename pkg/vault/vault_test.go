package vault

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wallet-ext/pkg/errno"
)

var testKey = func() []byte {
	// 固定的 32 字节测试私钥
	b, _ := hex.DecodeString("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	return b
}()

const testAddr = "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	password := "secure-password"

	record, err := Encrypt(testKey, testAddr, password)
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	if record.Crypto.Cipher != "aes-256-gcm" {
		t.Errorf("Expected cipher aes-256-gcm, got %s", record.Crypto.Cipher)
	}
	if record.Version != 3 {
		t.Errorf("Expected version 3, got %d", record.Version)
	}
	if record.Address != testAddr {
		t.Errorf("Address mismatch: %s", record.Address)
	}

	plaintext, err := Decrypt(record, password)
	if err != nil {
		t.Fatalf("Decryption failed: %v", err)
	}
	if !bytes.Equal(plaintext, testKey) {
		t.Error("Decrypted key does not match original")
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	record, err := Encrypt(testKey, testAddr, "correct-password")
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	_, err = Decrypt(record, "wrong-password")
	if !errors.Is(err, errno.ErrInvalidPassword) {
		t.Errorf("Expected ErrInvalidPassword, got %v", err)
	}
}

// 密码错误与数据损坏必须是同一个错误信号
func TestDecryptCorruptRecord(t *testing.T) {
	record, err := Encrypt(testKey, testAddr, "password-123")
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(r *EncryptedKeyRecord)
	}{
		{"篡改密文", func(r *EncryptedKeyRecord) {
			ct, _ := hex.DecodeString(r.Crypto.CipherText)
			ct[0] ^= 0xff
			r.Crypto.CipherText = hex.EncodeToString(ct)
		}},
		{"篡改 MAC", func(r *EncryptedKeyRecord) {
			r.Crypto.MAC = "00" + r.Crypto.MAC[2:]
		}},
		{"非法盐", func(r *EncryptedKeyRecord) {
			r.Crypto.KDFParams.Salt = "not-hex"
		}},
		{"非法 IV", func(r *EncryptedKeyRecord) {
			r.Crypto.CipherParams.IV = "zz"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clone := *record
			tc.mutate(&clone)
			_, err := Decrypt(&clone, "password-123")
			if !errors.Is(err, errno.ErrInvalidPassword) {
				t.Errorf("Expected ErrInvalidPassword, got %v", err)
			}
		})
	}
}

// 同一密钥同一密码两次加密必须产生不同的 Salt、IV 和密文
func TestEncryptFreshSaltAndNonce(t *testing.T) {
	r1, err := Encrypt(testKey, testAddr, "password")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Encrypt(testKey, testAddr, "password")
	if err != nil {
		t.Fatal(err)
	}

	if r1.Crypto.KDFParams.Salt == r2.Crypto.KDFParams.Salt {
		t.Error("Salt reused across encryptions")
	}
	if r1.Crypto.CipherParams.IV == r2.Crypto.CipherParams.IV {
		t.Error("IV reused across encryptions")
	}
	if r1.Crypto.CipherText == r2.Crypto.CipherText {
		t.Error("Ciphertext identical across encryptions")
	}
}

func TestFileSaveLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "walletData.json")

	record, err := Encrypt(testKey, testAddr, "123456")
	if err != nil {
		t.Fatal(err)
	}

	if err := record.SaveToFile(filename); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	// 权限必须是 0600
	info, err := os.Stat(filename)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 perms, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFromFile(filename)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Id != record.Id {
		t.Error("ID mismatch after load")
	}

	plaintext, err := Decrypt(loaded, "123456")
	if err != nil {
		t.Fatalf("Decrypt loaded failed: %v", err)
	}
	if !bytes.Equal(plaintext, testKey) {
		t.Error("Content mismatch")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, errno.ErrNoWalletFound) {
		t.Errorf("Expected ErrNoWalletFound, got %v", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "walletData.json")
	if err := os.WriteFile(filename, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	// 损坏的记录与密码错误同信号
	_, err := LoadFromFile(filename)
	if !errors.Is(err, errno.ErrInvalidPassword) {
		t.Errorf("Expected ErrInvalidPassword, got %v", err)
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	for _, v := range b {
		if v != 0 {
			t.Fatal("Zero did not clear buffer")
		}
	}
}
