package pkg

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
)

var (
	errNotDir = errors.New("is not a directory")
	errIsDir  = errors.New("is a directory")
)

// GenerateRandomBytes returns securely generated random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRandomString returns a URL-safe, base64 encoded
// securely generated random string of length s.
func GenerateRandomString(s int) (string, error) {
	if s <= 0 {
		return "", os.ErrInvalid
	}
	b, err := GenerateRandomBytes(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:s], nil
}

// PathExists returns whether the given file or directory exists
func PathExists(path string, isDir bool) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if isDir != stat.IsDir() {
		if isDir {
			return false, &os.PathError{Op: "stat", Path: path, Err: errNotDir}
		}
		return false, &os.PathError{Op: "stat", Path: path, Err: errIsDir}
	}
	return true, nil
}
