package stream

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// Cipher errors.
var (
	ErrIncompleteBlock = errors.New("ciphertext ends with a partial block")
	ErrInvalidPadding  = errors.New("invalid PKCS#7 padding")
)

// DecryptorOption configures a Decryptor.
type DecryptorOption func(*Decryptor)

// WithPaddingStrip holds back the last decrypted block until Finalize, which
// removes its PKCS#7 padding.
func WithPaddingStrip() DecryptorOption {
	return func(d *Decryptor) {
		d.stripPadding = true
	}
}

// Decryptor is a streaming AES-128-CBC decrypter. Chunks of any size may be
// fed to Decrypt; bytes that do not complete a block are carried over to the
// next call and CBC chaining continues across calls.
type Decryptor struct {
	mode  cipher.BlockMode
	carry []byte

	stripPadding bool
	held         []byte
}

// NewDecryptor initialises a decryption context for one segment.
func NewDecryptor(key, iv [16]byte, opts ...DecryptorOption) (*Decryptor, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	d := &Decryptor{
		mode:  cipher.NewCBCDecrypter(block, iv[:]),
		carry: make([]byte, 0, aes.BlockSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Decrypt decrypts the carried remainder plus chunk, up to the last whole
// block, and returns the plaintext produced by this call.
func (d *Decryptor) Decrypt(chunk []byte) []byte {
	data := make([]byte, 0, len(d.carry)+len(chunk))
	data = append(data, d.carry...)
	data = append(data, chunk...)

	n := len(data) - len(data)%aes.BlockSize
	out := make([]byte, n)
	if n > 0 {
		d.mode.CryptBlocks(out, data[:n])
	}
	d.carry = append(d.carry[:0], data[n:]...)

	if !d.stripPadding {
		return out
	}

	// Keep the newest block back: it may be the padded final block.
	pending := append(d.held, out...)
	if len(pending) <= aes.BlockSize {
		d.held = pending
		return nil
	}
	cut := len(pending) - aes.BlockSize
	d.held = append([]byte(nil), pending[cut:]...)
	return pending[:cut]
}

// Finalize flushes the decryptor at the end of a segment. Without padding
// stripping it returns no data. It reports ErrIncompleteBlock if ciphertext
// bytes are left over.
func (d *Decryptor) Finalize() ([]byte, error) {
	var err error
	if len(d.carry) > 0 {
		err = ErrIncompleteBlock
		d.carry = d.carry[:0]
	}
	if !d.stripPadding || len(d.held) == 0 {
		return nil, err
	}

	last := d.held
	d.held = nil
	unpadded, perr := unpadPKCS7(last)
	if perr != nil {
		return last, errors.Join(err, perr)
	}
	return unpadded, err
}

func unpadPKCS7(block []byte) ([]byte, error) {
	if len(block) == 0 || len(block)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	pad := int(block[len(block)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range block[len(block)-pad:] {
		if int(b) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return block[:len(block)-pad], nil
}
