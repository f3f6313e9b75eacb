// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"slices"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/storage"
	"github.com/al-berger/regd/lib/token"
	"github.com/al-berger/regd/lib/wire"
)

// Option names of storage commands.
const (
	optionPers      = "pers"
	optionDest      = "dest"
	optionForce     = "force"
	optionSum       = "sum"
	optionAttrs     = "attrs"
	optionTree      = "tree"
	optionNoValues  = "novals"
	optionRecursive = "recursive"
	optionPrune     = "prune"
	optionFromPars  = "from_pars"
)

// base returns the section that relative paths resolve under.
func (s *Store) base(request *wire.Request) ([]string, error) {
	if !request.Has(optionPers) {
		return []string{storage.RootSession}, nil
	}
	if s.config.Datafile == "" {
		return nil, failure.New(failure.OperationFailed,
			"persistent tokens are not enabled: the server has no data file")
	}
	return []string{storage.RootPersistent}, nil
}

// parse turns a raw token into absolute path segments, name and
// value. Relative tokens are placed under base.
func (s *Store) parse(raw string, base []string, request *wire.Request) ([]string, token.Token, error) {
	parsed, err := token.Parse(raw)
	if err != nil {
		return nil, token.Token{}, err
	}
	path := parsed.Path
	if !parsed.Absolute {
		path = append(slices.Clone(base), path...)
	}
	if err := checkSystem(path, request); err != nil {
		return nil, token.Token{}, err
	}
	return path, parsed, nil
}

// itemPath resolves a raw parameter naming an existing node.
func (s *Store) itemPath(raw string, request *wire.Request) ([]string, error) {
	base, err := s.base(request)
	if err != nil {
		return nil, err
	}
	path, parsed, err := s.parse(raw, base, request)
	if err != nil {
		return nil, err
	}
	if parsed.HasValue {
		return nil, failure.Errorf(failure.MalformedToken, "%q names a value assignment, not a path", raw)
	}
	if parsed.Name != "" {
		path = append(path, parsed.Name)
	}
	if err := checkSystem(path, request); err != nil {
		return nil, err
	}
	return path, nil
}

// destination returns the raw prefix that add and load_file join to
// their tokens, and the section it names.
func (s *Store) destination(request *wire.Request) (string, []string, error) {
	if request.Has(optionDest) {
		if request.Has(optionPers) {
			return "", nil, failure.Errorf(failure.UnrecognizedSyntax,
				"%s and %s cannot be both specified for one command", optionDest, optionPers)
		}
		raw := request.Value(optionDest)
		if raw == "" {
			return "", nil, failure.Errorf(failure.UnrecognizedParameter, "%s must name a section", optionDest)
		}
		path, err := s.itemPath(strings.TrimSuffix(raw, "/")+"/", request.Without(optionPers))
		if err != nil {
			return "", nil, err
		}
		return strings.TrimSuffix(raw, "/"), path, nil
	}
	base, err := s.base(request)
	if err != nil {
		return "", nil, err
	}
	return "", base, nil
}

func checkSystem(path []string, request *wire.Request) error {
	if len(path) > 0 && path[0] == storage.RootSystem && !request.Internal() {
		return failure.Errorf(failure.PermissionDenied, "%s is reserved for internal requests",
			token.FormatPath(true, path))
	}
	return nil
}

func addMode(request *wire.Request) storage.AddMode {
	switch {
	case request.Has(optionSum):
		return storage.Sum
	case request.Has(optionForce):
		return storage.Overwrite
	default:
		return storage.NoOverwrite
	}
}

// attributes parses "name=value" option values.
func attributes(request *wire.Request) (map[string]string, error) {
	values := request.Values(optionAttrs)
	if len(values) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(values))
	for _, pair := range values {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, failure.Errorf(failure.UnrecognizedParameter, "attribute %q is not name=value", pair)
		}
		attrs[name] = value
	}
	return attrs, nil
}

// valueOf returns a value node's payload for the wire.
func valueOf(node *storage.Node) (wire.Value, error) {
	if node.IsSection() {
		return nil, failure.Errorf(failure.NotFound, "%s is a section", node.PathString())
	}
	if node.IsBinary() {
		return wire.Bytes(slices.Clone(node.Bytes())), nil
	}
	return wire.String(node.Text()), nil
}
