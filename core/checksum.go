package core

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// A checksum tagged with the algorithm that produced it. The canonical wire
// form is "<algorithm>:<hex>"; legacy unprefixed strings are accepted, with
// the algorithm inferred from the length of the hex digest.
type Checksum struct {
	Algorithm string
	Hex       string
}

// hex digest lengths for the supported algorithms, used to infer the
// algorithm of a legacy unprefixed checksum
var digestLengths = map[int]string{
	32:  "md5",
	40:  "sha1",
	64:  "sha256",
	128: "sha512",
}

// returns a new hash for the named algorithm, or an error for an
// unsupported one
func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
}

// parses a checksum string in either its canonical or its legacy form;
// an empty string is the zero checksum
func ParseChecksum(s string) (Checksum, error) {
	if s == "" {
		return Checksum{}, nil
	}
	if algorithm, hexDigest, found := strings.Cut(s, ":"); found {
		if _, err := newHash(algorithm); err != nil {
			return Checksum{}, err
		}
		return Checksum{Algorithm: algorithm, Hex: strings.ToLower(hexDigest)}, nil
	}
	// legacy form: infer the algorithm from the digest length
	if algorithm, found := digestLengths[len(s)]; found {
		return Checksum{Algorithm: algorithm, Hex: strings.ToLower(s)}, nil
	}
	return Checksum{}, fmt.Errorf("cannot infer algorithm for checksum of length %d", len(s))
}

func (c Checksum) String() string {
	if c.Algorithm == "" && c.Hex == "" {
		return ""
	}
	return c.Algorithm + ":" + c.Hex
}

// indicates whether two checksums match; comparing checksums produced by
// different algorithms is an error, not a mismatch
func (c Checksum) Matches(other Checksum) (bool, error) {
	if c.Algorithm != other.Algorithm {
		return false, fmt.Errorf("cannot compare %s checksum with %s checksum",
			c.Algorithm, other.Algorithm)
	}
	return strings.EqualFold(c.Hex, other.Hex), nil
}

func (c Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Checksum) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	checksum, err := ParseChecksum(s)
	if err != nil {
		return err
	}
	*c = checksum
	return nil
}

// checksums are stored in the database in their canonical string form

func (c Checksum) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Checksum) Scan(value any) error {
	s, ok := value.(string)
	if !ok {
		if b, isBytes := value.([]byte); isBytes {
			s = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into Checksum", value)
		}
	}
	checksum, err := ParseChecksum(s)
	if err != nil {
		return err
	}
	*c = checksum
	return nil
}

// computes the checksum of the file at the given path using the named
// algorithm; directories are hashed by hashing the sorted list of their
// files' hex digests, so the result is independent of walk order
func ChecksumPath(path, algorithm string) (Checksum, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Checksum{}, err
	}
	if info.IsDir() {
		return checksumDirectory(path, algorithm)
	}
	return checksumFile(path, algorithm)
}

func checksumFile(path, algorithm string) (Checksum, error) {
	hasher, err := newHash(algorithm)
	if err != nil {
		return Checksum{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Checksum{}, err
	}
	defer file.Close()
	if _, err = io.Copy(hasher, file); err != nil {
		return Checksum{}, err
	}
	return Checksum{
		Algorithm: algorithm,
		Hex:       hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func checksumDirectory(path, algorithm string) (Checksum, error) {
	var digests []string
	err := filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		checksum, err := checksumFile(entryPath, algorithm)
		if err != nil {
			return err
		}
		digests = append(digests, checksum.Hex)
		return nil
	})
	if err != nil {
		return Checksum{}, err
	}
	sort.Strings(digests)

	hasher, err := newHash(algorithm)
	if err != nil {
		return Checksum{}, err
	}
	for _, digest := range digests {
		io.WriteString(hasher, digest)
	}
	return Checksum{
		Algorithm: algorithm,
		Hex:       hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
