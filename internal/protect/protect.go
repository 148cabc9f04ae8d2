// Package protect password-protects rendered slips.
package protect

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// KeyLength is the fixed AES key size used for every slip.
const KeyLength = 128

var (
	ErrProtectionFailed = errors.New("document protection failed")
	ErrWrongPassword    = errors.New("wrong document password")
)

func init() {
	api.DisableConfigDir()
}

// Protect encrypts the PDF at path in place with credential as both the owner and
// the user password. On failure the unprotected file is removed so it can never be
// handed out.
func Protect(path, credential string) error {
	if err := protectTo(path, path, credential); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s: %v", ErrProtectionFailed, filepath.Base(path), err)
	}
	return nil
}

// ProtectTo encrypts the PDF at src and publishes the result at dst. dst only
// ever changes by rename, so readers see the previous protected file or the new
// one. src is left for the caller; on failure dst is untouched.
func ProtectTo(src, dst, credential string) error {
	if err := protectTo(src, dst, credential); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtectionFailed, filepath.Base(dst), err)
	}
	return nil
}

func protectTo(src, dst, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return errors.New("empty credential")
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".protect-*.pdf")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	conf := model.NewAESConfiguration(credential, credential, KeyLength)
	if err := api.Encrypt(in, tmp, conf); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	_ = in.Close()
	return os.Rename(tmpPath, dst)
}

// Unlock decrypts the protected PDF at path into memory.
func Unlock(path, password string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(raw), &out, conf); err != nil {
		if errors.Is(err, pdfcpu.ErrWrongPassword) {
			return nil, fmt.Errorf("%w: %w", ErrWrongPassword, err)
		}
		return nil, err
	}
	return out.Bytes(), nil
}
