// Package secrets encrypts backup files for an age recipient.
package secrets

import (
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/ameistad/shipyard/internal/constants"
)

// Extension is appended to the name of every encrypted file.
const Extension = ".age"

func ParseRecipient(s string) (age.Recipient, error) {
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse age recipient: %w", err)
	}
	return recipient, nil
}

// NewWriter returns a writer that encrypts to recipient. When recipient is
// nil, w is returned unchanged behind a no-op Close.
func NewWriter(w io.Writer, recipient age.Recipient) (io.WriteCloser, error) {
	if recipient == nil {
		return nopCloser{w}, nil
	}
	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	return enc, nil
}

// CopyFile copies src to dst, encrypting when recipient is set. It returns
// the path written, which carries the .age extension when encrypted.
func CopyFile(src, dst string, recipient age.Recipient) (string, error) {
	if recipient != nil {
		dst += Extension
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.ModeFileSecret)
	if err != nil {
		return "", err
	}
	w, err := NewWriter(out, recipient)
	if err != nil {
		out.Close()
		return "", err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to finish %s: %w", dst, err)
	}
	return dst, out.Close()
}

// Decrypt reads an encrypted stream with identity.
func Decrypt(r io.Reader, identity age.Identity) ([]byte, error) {
	dec, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read decrypted data: %w", err)
	}
	return data, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
