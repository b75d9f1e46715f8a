package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/flowmesh/flowmesh/ferrors"
)

// LocalDiskStorage is the local-once backend's Stage I/O: a local-disk KV
// with per-file locks (spec.md §4.9 "a local disk KV with per-file locks
// (lock file = path + '.lock') and a spin-wait release protocol"). There
// are no other workers in this backend, so destStages/srcStage/activeSend/
// activePull/tcpDirect are accepted for interface compatibility but have no
// effect beyond routing every Put/Get through the same directory.
type LocalDiskStorage struct {
	Dir string
}

// NewLocalDiskStorage roots storage at dir, creating it if absent.
func NewLocalDiskStorage(dir string) (*LocalDiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalDiskStorage{Dir: dir}, nil
}

func (s *LocalDiskStorage) path(key string) string {
	return filepath.Join(s.Dir, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

// lock acquires path+".lock" via spin-wait: O_EXCL create succeeds only for
// the first caller, others retry until the lock file disappears.
func (s *LocalDiskStorage) lock(ctx context.Context, path string) (func(), error) {
	lockPath := path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (s *LocalDiskStorage) Put(ctx context.Context, destStages []string, key string, obj []byte, activeSend bool) error {
	p := s.path(key)
	unlock, err := s.lock(ctx, p)
	if err != nil {
		return err
	}
	defer unlock()
	return os.WriteFile(p, obj, 0o644)
}

func (s *LocalDiskStorage) Get(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	p := s.path(key)
	unlock, err := s.lock(ctx, p)
	if err != nil {
		return nil, err
	}
	defer unlock()
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.KindMissingEntry, key, nil)
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalDiskStorage) GetExisted(ctx context.Context, srcStage, key string, activePull, tcpDirect bool) ([]byte, error) {
	data, err := s.Get(ctx, srcStage, key, activePull, tcpDirect)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ferrors.New(ferrors.KindMissingEntry, key, nil)
	}
	return data, nil
}
