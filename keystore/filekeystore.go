package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type fileKeyStore struct {
	rootPath string
	keysLk   sync.Mutex
}

func NewFileKeyStore(rootPath string) (Keystore, error) {
	err := ensureDir(rootPath)
	if err != nil {
		return nil, err
	}
	return &fileKeyStore{rootPath: rootPath}, nil
}

func ensureDir(path string) error {
	err := os.MkdirAll(path, 0700)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("keystore: failed to make a dir: %w", err)
	}
	return nil
}

func (f *fileKeyStore) path(keyName string) (string, error) {
	if keyName == "" || strings.ContainsAny(keyName, `/\`) || keyName == "." || keyName == ".." {
		return "", fmt.Errorf("keystore: invalid key name %q", keyName)
	}
	return filepath.Join(f.rootPath, keyName), nil
}

func (f *fileKeyStore) Get(keyName string) (PrivKey, error) {
	rootPath, err := f.path(keyName)
	if err != nil {
		return PrivKey{}, err
	}
	f.keysLk.Lock()
	defer f.keysLk.Unlock()

	content, err := os.ReadFile(rootPath)
	if err != nil && os.IsNotExist(err) {
		return PrivKey{}, ErrKeyNotFound
	}

	if err != nil {
		return PrivKey{}, err
	}

	k := PrivKey{}
	err = json.Unmarshal(content, &k)
	if err != nil {
		return PrivKey{}, err
	}
	return k, nil
}

// Put refuses to overwrite an existing key.
func (f *fileKeyStore) Put(keyName string, value PrivKey) error {
	rootPath, err := f.path(keyName)
	if err != nil {
		return err
	}
	f.keysLk.Lock()
	defer f.keysLk.Unlock()

	content, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fd, err := os.OpenFile(rootPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if os.IsExist(err) {
		return fmt.Errorf("keystore: key '%s' already exists", keyName)
	}
	if err != nil {
		return err
	}
	if _, err := fd.Write(content); err != nil {
		_ = fd.Close()
		return err
	}
	return fd.Close()
}

func (f *fileKeyStore) Delete(keyName string) error {
	rootPath, err := f.path(keyName)
	if err != nil {
		return err
	}
	f.keysLk.Lock()
	defer f.keysLk.Unlock()
	if err := os.Remove(rootPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, keyName)
		}
		return err
	}
	return nil
}

func (f *fileKeyStore) List() ([]string, error) {
	f.keysLk.Lock()
	defer f.keysLk.Unlock()
	entries, err := os.ReadDir(f.rootPath)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}
