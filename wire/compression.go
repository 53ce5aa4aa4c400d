package wire

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the four-byte frame magic number zstd always leads with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MaybeDecompress returns data unchanged unless it opens with a zstd magic
// number, in which case it is decompressed first. Some IPFS-pinned edits are
// stored zstd-compressed to save on pinning cost; most are not.
func MaybeDecompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: init zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompress: %w", err)
	}
	return out, nil
}
