package core

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// tests parsing of canonical and legacy checksum strings
func TestParseChecksum(t *testing.T) {
	checksum, err := ParseChecksum("md5:9e107d9d372bb6826bd81d3542a419d6")
	assert.Nil(t, err)
	assert.Equal(t, "md5", checksum.Algorithm)
	assert.Equal(t, "9e107d9d372bb6826bd81d3542a419d6", checksum.Hex)

	// a bare 32-character digest is legacy MD5
	checksum, err = ParseChecksum("9E107D9D372BB6826BD81D3542A419D6")
	assert.Nil(t, err)
	assert.Equal(t, "md5", checksum.Algorithm)
	assert.Equal(t, "9e107d9d372bb6826bd81d3542a419d6", checksum.Hex)

	// a bare 64-character digest is legacy SHA-256
	checksum, err = ParseChecksum("d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592")
	assert.Nil(t, err)
	assert.Equal(t, "sha256", checksum.Algorithm)

	_, err = ParseChecksum("abc123")
	assert.NotNil(t, err, "Uninferable checksum didn't trigger an error.")

	_, err = ParseChecksum("crc32:abcdef01")
	assert.NotNil(t, err, "Unsupported algorithm didn't trigger an error.")
}

// tests checksum comparison, including the cross-algorithm error case
func TestChecksumMatches(t *testing.T) {
	a := Checksum{Algorithm: "md5", Hex: "9e107d9d372bb6826bd81d3542a419d6"}
	b := Checksum{Algorithm: "md5", Hex: "9E107D9D372BB6826BD81D3542A419D6"}
	same, err := a.Matches(b)
	assert.Nil(t, err)
	assert.True(t, same)

	c := Checksum{Algorithm: "md5", Hex: "00000000000000000000000000000000"}
	same, err = a.Matches(c)
	assert.Nil(t, err)
	assert.False(t, same)

	d := Checksum{Algorithm: "sha256", Hex: a.Hex}
	_, err = a.Matches(d)
	assert.NotNil(t, err, "Cross-algorithm comparison didn't trigger an error.")
}

// tests hashing of a flat file
func TestChecksumFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	content := []byte("The quick brown fox jumps over the lazy dog")
	assert.Nil(t, os.WriteFile(path, content, 0644))

	checksum, err := ChecksumPath(path, "md5")
	assert.Nil(t, err)
	expected := md5.Sum(content)
	assert.Equal(t, hex.EncodeToString(expected[:]), checksum.Hex)
	assert.Equal(t, "md5:"+checksum.Hex, checksum.String())
}

// tests that directory hashes are independent of file creation order
func TestChecksumDirectory(t *testing.T) {
	dir1 := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir1, "a.txt"), []byte("alpha"), 0644))
	assert.Nil(t, os.WriteFile(filepath.Join(dir1, "b.txt"), []byte("beta"), 0644))

	dir2 := t.TempDir()
	assert.Nil(t, os.WriteFile(filepath.Join(dir2, "b.txt"), []byte("beta"), 0644))
	assert.Nil(t, os.WriteFile(filepath.Join(dir2, "a.txt"), []byte("alpha"), 0644))

	checksum1, err := ChecksumPath(dir1, "sha256")
	assert.Nil(t, err)
	checksum2, err := ChecksumPath(dir2, "sha256")
	assert.Nil(t, err)
	assert.Equal(t, checksum1.Hex, checksum2.Hex)

	// changing content changes the hash
	assert.Nil(t, os.WriteFile(filepath.Join(dir2, "a.txt"), []byte("gamma"), 0644))
	checksum3, err := ChecksumPath(dir2, "sha256")
	assert.Nil(t, err)
	assert.NotEqual(t, checksum1.Hex, checksum3.Hex)
}

// tests that the zero checksum survives a string round trip
func TestEmptyChecksum(t *testing.T) {
	var empty Checksum
	assert.Equal(t, "", empty.String())

	checksum, err := ParseChecksum("")
	assert.Nil(t, err)
	assert.Equal(t, empty, checksum)
}
