package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// IndexFile is the bbolt database kept inside the cache directory.
const IndexFile = ".pyenv-composer.db"

var artifactsBucket = []byte("artifacts")

// ErrUnsupportedAlgo is returned for digest algorithms other than
// md5, sha256, sha384 and sha512.
var ErrUnsupportedAlgo = errors.New("unsupported digest algorithm")

// Entry records one verified artifact in the cache directory.
type Entry struct {
	Filename  string    `json:"filename"`
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	URL       string    `json:"url"`
	Algo      string    `json:"algo"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Index maps artifact filenames to their recorded digests.
type Index struct {
	db  *bolt.DB
	dir string
}

// Open opens or creates the index of cacheDir.
func Open(cacheDir string) (*Index, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	path := filepath.Join(cacheDir, IndexFile)
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(artifactsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", artifactsBucket, err)
	}
	return &Index{db: db, dir: cacheDir}, nil
}

// Close releases the database file lock.
func (i *Index) Close() error {
	return i.db.Close()
}

// Dir returns the cache directory the index describes.
func (i *Index) Dir() string {
	return i.dir
}

// Lookup returns the entry recorded for filename.
func (i *Index) Lookup(filename string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := i.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(artifactsBucket).Get([]byte(filename))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry %s: %w", filename, err)
	}
	return entry, found, nil
}

// Record stores e, replacing any previous entry for the same filename.
func (i *Index) Record(e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", e.Filename, err)
	}
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactsBucket).Put([]byte(e.Filename), data)
	})
}

// Remove forgets filename. Missing entries are not an error.
func (i *Index) Remove(filename string) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactsBucket).Delete([]byte(filename))
	})
}

// Entries lists every record sorted by filename.
func (i *Index) Entries() ([]Entry, error) {
	var entries []Entry
	err := i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactsBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding cache entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	sort.Slice(entries, func(a, b int) bool { return entries[a].Filename < entries[b].Filename })
	return entries, err
}

// Verify reports whether the recorded artifact is still present and intact
// on disk. Stale records are removed.
func (i *Index) Verify(e Entry) (bool, error) {
	path := filepath.Join(i.dir, e.Filename)
	info, err := os.Stat(path)
	if err != nil || info.Size() != e.Size {
		return false, i.Remove(e.Filename)
	}
	digest, err := FileDigest(path, e.Algo)
	if err != nil {
		return false, err
	}
	if digest != e.Digest {
		return false, i.Remove(e.Filename)
	}
	return true, nil
}

// NewHash returns a hash for one of the digest names used by package indexes.
func NewHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algo)
}

// FileDigest returns the lowercase hex digest of the file at path.
func FileDigest(path, algo string) (string, error) {
	h, err := NewHash(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
