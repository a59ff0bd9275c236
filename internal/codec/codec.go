// Package codec turns a playground snapshot into a compact URL-safe token
// and back.
//
// A token is the unpadded base64url encoding of
//
//	[1 byte compression tag][uvarint uncompressed length][payload]
//
// where the uncompressed payload is the CBOR encoding of a Record. The
// base64url alphabet needs no escaping inside a query parameter.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	perrors "github.com/conneroisu/playground/internal/errors"
)

// Record is the snapshot embedded in a shareable link.
type Record struct {
	TemplateMarkdown string `cbor:"templateMarkdown" json:"templateMarkdown"`
	ModelCto         string `cbor:"modelCto" json:"modelCto"`
	Data             string `cbor:"data" json:"data"`
	AgreementHTML    string `cbor:"agreementHtml" json:"agreementHtml"`
}

func (r Record) validate() error {
	for _, field := range []struct{ name, value string }{
		{"templateMarkdown", r.TemplateMarkdown},
		{"modelCto", r.ModelCto},
		{"data", r.Data},
		{"agreementHtml", r.AgreementHTML},
	} {
		if !utf8.ValidString(field.value) {
			return perrors.NewValidationError(perrors.ErrCodeInvalidEncoding,
				fmt.Sprintf("share record field %s is not valid UTF-8", field.name))
		}
	}
	return nil
}

// CompressionTag identifies the compression applied to a token payload.
// The values are part of the token format.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionZstd CompressionTag = 1
	CompressionLZ4  CompressionTag = 2
)

// DefaultMaxDecodedBytes bounds the uncompressed size a token may claim.
const DefaultMaxDecodedBytes = 8 << 20

// String returns the configuration name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its configuration name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var tokenEncoding = base64.RawURLEncoding

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(DefaultMaxDecodedBytes),
	)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: cbor encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		UTF8:        cbor.UTF8RejectInvalid,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder initialization failed: " + err.Error())
	}
}

// Codec encodes and decodes share tokens.
type Codec struct {
	compression     CompressionTag
	maxDecodedBytes int
}

// Option configures a Codec.
type Option func(*Codec)

// WithCompression selects the compression used by Encode. Decode accepts
// every tag regardless of this setting.
func WithCompression(tag CompressionTag) Option {
	return func(c *Codec) { c.compression = tag }
}

// WithMaxDecodedBytes bounds the payload size Decode will accept.
func WithMaxDecodedBytes(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecodedBytes = n
		}
	}
}

// New creates a Codec. The default compresses with zstd.
func New(opts ...Option) *Codec {
	c := &Codec{
		compression:     CompressionZstd,
		maxDecodedBytes: DefaultMaxDecodedBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode packs r into a token. Every field must be valid UTF-8, since
// Decode rejects anything else.
func (c *Codec) Encode(r Record) (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}

	payload, err := cborEncMode.Marshal(r)
	if err != nil {
		return "", perrors.WrapInternal(err, perrors.ErrCodeEncode, "failed to serialize share record")
	}

	tag := c.compression
	body, err := compress(payload, tag)
	if err != nil {
		return "", perrors.WrapInternal(err, perrors.ErrCodeEncode, "failed to compress share record")
	}
	if body == nil || len(body) >= len(payload) {
		tag, body = CompressionNone, payload
	}

	buf := make([]byte, 1+binary.MaxVarintLen64+len(body))
	buf[0] = byte(tag)
	n := 1 + binary.PutUvarint(buf[1:], uint64(len(payload)))
	n += copy(buf[n:], body)

	return tokenEncoding.EncodeToString(buf[:n]), nil
}

// Decode is the inverse of Encode. Any failure is a decode error.
func (c *Codec) Decode(token string) (Record, error) {
	var r Record

	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return r, perrors.NewDecodeError("share token is not valid base64url", err)
	}
	if len(raw) < 2 {
		return r, perrors.NewDecodeError("share token is truncated", nil)
	}

	tag := CompressionTag(raw[0])
	size, n := binary.Uvarint(raw[1:])
	if n <= 0 {
		return r, perrors.NewDecodeError("share token has a corrupt length header", nil)
	}
	if size > uint64(c.maxDecodedBytes) {
		return r, perrors.NewDecodeError(
			fmt.Sprintf("share token claims %d bytes, limit is %d", size, c.maxDecodedBytes), nil)
	}

	payload, err := decompress(raw[1+n:], tag, int(size))
	if err != nil {
		return r, perrors.NewDecodeError("share token payload is corrupt", err)
	}

	if err := cborDecMode.Unmarshal(payload, &r); err != nil {
		return Record{}, perrors.NewDecodeError("share token does not contain a playground record", err)
	}

	return r, nil
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil

	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// Zero means incompressible; the caller falls back to none.
		if written == 0 {
			return nil, nil
		}
		return destination[:written], nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(body []byte, tag CompressionTag, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(body), size)
		}
		return body, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}
