// Package codec turns chunk values into their stored form and back. A stored
// value is one flag byte followed by the payload; the flags record whether
// the payload was compressed and whether it was encrypted, so values written
// under different settings remain readable.
package codec

import (
	"errors"
	"fmt"

	"github.com/jaywantadh/chunkstore/internal/compressor"
	"github.com/jaywantadh/chunkstore/internal/encryptor"
)

const (
	flagCompressed byte = 1 << iota
	flagEncrypted
)

// ErrNoPassphrase is returned when decoding an encrypted value with a codec
// that has no passphrase.
var ErrNoPassphrase = errors.New("codec: value is encrypted but no passphrase is configured")

// Options selects the transforms applied on Encode.
type Options struct {
	Compress   bool
	Passphrase string
}

// Codec implements storage.Codec.
type Codec struct {
	compress bool
	enc      encryptor.Encryptor
}

// New builds a Codec. An empty passphrase disables encryption.
func New(opts Options) (*Codec, error) {
	c := &Codec{compress: opts.Compress}
	if opts.Passphrase != "" {
		enc, err := encryptor.NewEncryptor(opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

// Encode compresses (when it helps) and then encrypts value.
func (c *Codec) Encode(value []byte) ([]byte, error) {
	var flags byte
	payload := value

	if c.compress {
		compressed, err := compressor.CompressChunk(value)
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		if compressor.Worthwhile(value, compressed) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	if c.enc != nil {
		sealed, err := c.enc.Encrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		payload = sealed
		flags |= flagEncrypted
	}

	out := make([]byte, 0, len(payload)+1)
	out = append(out, flags)
	return append(out, payload...), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errors.New("codec: empty stored value")
	}
	flags, payload := stored[0], stored[1:]
	if flags&^(flagCompressed|flagEncrypted) != 0 {
		return nil, fmt.Errorf("codec: unknown flags %#x", flags)
	}

	if flags&flagEncrypted != 0 {
		if c.enc == nil {
			return nil, ErrNoPassphrase
		}
		plain, err := c.enc.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		payload = plain
	}

	if flags&flagCompressed != 0 {
		raw, err := compressor.DecompressData(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		payload = raw
	}

	return append([]byte(nil), payload...), nil
}
