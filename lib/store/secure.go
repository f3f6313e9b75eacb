// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/persist"
	"github.com/al-berger/regd/lib/storage"
	"github.com/al-berger/regd/lib/token"
	"github.com/al-berger/regd/lib/wire"
)

// secureTokens reads the secure-token file into the secure tree.
// Secure tokens are never written back.
func (s *Store) secureTokens(ctx context.Context, file string) error {
	if file == "" {
		file = s.config.SecureFile
	}
	if file == "" {
		return failure.New(failure.OperationFailed, "no secure token file is configured")
	}
	if s.config.SecureSource == nil {
		return failure.New(failure.OperationFailed, "no secure token source is configured")
	}
	plaintext, err := s.config.SecureSource.Read(ctx, file)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	reader := persist.Reader{Tree: s.secure, Mode: storage.Overwrite}
	if err := reader.Read(bytes.NewReader(plaintext.Bytes()), filepath.Dir(file), nil); err != nil {
		return failure.Wrap(failure.KindOf(err), err, "parsing secure tokens")
	}
	s.secureLoaded = true
	s.logger.Info("secure tokens loaded", "file", file)
	return nil
}

// securePath resolves a secure-tree path. The secure tree has no
// fixed roots, so absolute and relative paths mean the same.
func securePath(raw string) ([]string, error) {
	parsed, err := token.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.HasValue {
		return nil, failure.Errorf(failure.MalformedToken, "%q names a value assignment, not a path", raw)
	}
	return parsed.Segments(), nil
}

func (s *Store) addSecure(ctx context.Context, request *wire.Request) (wire.Value, error) {
	var prefix string
	if request.Has(optionDest) {
		prefix = request.Value(optionDest)
		if prefix == "" {
			return nil, failure.Errorf(failure.UnrecognizedParameter, "%s must name a section", optionDest)
		}
		for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if err := s.addTokens(ctx, s.secure, prefix, nil, request, false); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

// getSecure reads the configured file on first use when nothing has
// been loaded yet.
func (s *Store) getSecure(ctx context.Context, request *wire.Request) (wire.Value, error) {
	if !s.secureLoaded && s.secure.Root().Size() == 0 {
		if err := s.secureTokens(ctx, ""); err != nil {
			return nil, err
		}
	}
	path, err := securePath(request.Params[0])
	if err != nil {
		return nil, err
	}
	node, err := s.secure.Get(path)
	if err != nil {
		return nil, err
	}
	return valueOf(node)
}

func (s *Store) loadSecure(ctx context.Context, request *wire.Request) (wire.Value, error) {
	var file string
	if len(request.Params) > 0 {
		file = request.Params[0]
	}
	if err := s.secureTokens(ctx, file); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

func (s *Store) removeSecure(_ context.Context, request *wire.Request) (wire.Value, error) {
	path, err := securePath(request.Params[0])
	if err != nil {
		return nil, err
	}
	if err := s.secure.Remove(path, false); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

func (s *Store) removeSectionSecure(_ context.Context, request *wire.Request) (wire.Value, error) {
	path, err := securePath(request.Params[0])
	if err != nil {
		return nil, err
	}
	if err := s.secure.RemoveSection(path); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

func (s *Store) clearSecure(context.Context, *wire.Request) (wire.Value, error) {
	if err := s.secure.Clear(nil); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

// clearSession drops the session tokens and the secure tokens.
func (s *Store) clearSession(context.Context, *wire.Request) (wire.Value, error) {
	if err := s.secure.Clear(nil); err != nil {
		return nil, err
	}
	if err := s.tree.Clear([]string{storage.RootSession}); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}
