// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/persist"
	"github.com/al-berger/regd/lib/storage"
	"github.com/al-berger/regd/lib/wire"
)

// Subsystem is the dispatcher name of the storage commands.
const Subsystem = "storage"

// NewDispatcher returns the storage commands bound to s. The server
// process, which has no Store, passes nil and only uses the result
// through Dispatcher.Forward.
func NewDispatcher(s *Store) *command.Dispatcher {
	d := command.NewDispatcher(Subsystem)
	d.Handle(command.Spec{Name: "exists", Params: command.Exactly(1), Optional: []string{optionPers}, Handler: s.exists})
	d.Handle(command.Spec{Name: "getattr", Params: command.Exactly(1), Optional: []string{optionPers, optionAttrs}, Handler: s.getAttr})
	d.Handle(command.Spec{Name: "setattr", Params: command.Exactly(1), Required: []string{optionAttrs}, Optional: []string{optionPers}, Handler: s.setAttr})
	d.Handle(command.Spec{Name: "ls", Params: command.Optional(), Optional: []string{optionPers, optionTree, optionNoValues, optionRecursive}, Handler: s.list})
	d.Handle(command.Spec{Name: "get", Params: command.AtLeast(1), Optional: []string{optionPers}, Handler: s.get})
	d.Handle(command.Spec{
		Name:     "add",
		Params:   command.AtLeast(1),
		Optional: []string{optionForce, optionPers, optionDest, optionAttrs, wire.BinaryOption, optionSum},
		Handler:  s.add,
	})
	d.Handle(command.Spec{
		Name:     "load_file",
		Params:   command.AtLeast(1),
		Optional: []string{optionForce, optionPers, optionDest, optionFromPars},
		Handler:  s.loadFile,
	})
	d.Handle(command.Spec{Name: "cp", Params: command.Exactly(2), Optional: []string{optionForce, optionPers, optionFromPars}, Handler: s.copy})
	d.Handle(command.Spec{Name: "remove", Params: command.AtLeast(1), Optional: []string{optionPers, optionPrune}, Handler: s.remove})
	d.Handle(command.Spec{Name: "remove_section", Params: command.AtLeast(1), Optional: []string{optionPers}, Handler: s.removeSection})
	d.Handle(command.Spec{Name: "create_section", Params: command.AtLeast(1), Optional: []string{optionPers, optionAttrs}, Handler: s.createSection})
	d.Handle(command.Spec{Name: "rename", Params: command.Exactly(2), Optional: []string{optionPers, optionForce}, Handler: s.rename})
	d.Handle(command.Spec{Name: "fs_info", Params: command.Optional(), Optional: []string{optionPers}, Handler: s.fsInfo})

	d.Handle(command.Spec{
		Name:     "add_sec",
		Params:   command.AtLeast(1),
		Optional: []string{optionForce, optionDest, optionAttrs, wire.BinaryOption, optionSum},
		Handler:  s.addSecure,
	})
	d.Handle(command.Spec{Name: "get_sec", Params: command.Exactly(1), Handler: s.getSecure})
	d.Handle(command.Spec{Name: "load_file_sec", Params: command.Optional(), Handler: s.loadSecure})
	d.Handle(command.Spec{Name: "remove_sec", Params: command.Exactly(1), Handler: s.removeSecure})
	d.Handle(command.Spec{Name: "remove_section_sec", Params: command.Exactly(1), Handler: s.removeSectionSecure})
	d.Handle(command.Spec{Name: "clear_sec", Params: command.Exactly(0), Handler: s.clearSecure})
	d.Handle(command.Spec{Name: "clear_session", Params: command.Exactly(0), Handler: s.clearSession})
	return d
}

func (s *Store) exists(_ context.Context, request *wire.Request) (wire.Value, error) {
	path, err := s.itemPath(request.Params[0], request)
	if err != nil {
		return nil, err
	}
	if _, err := s.tree.Get(path); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

func (s *Store) getAttr(_ context.Context, request *wire.Request) (wire.Value, error) {
	path, err := s.itemPath(request.Params[0], request)
	if err != nil {
		return nil, err
	}
	attrs, err := s.tree.GetAttr(path, request.Values(optionAttrs))
	if err != nil {
		return nil, err
	}
	return wire.StringMap(attrs), nil
}

func (s *Store) setAttr(_ context.Context, request *wire.Request) (wire.Value, error) {
	path, err := s.itemPath(request.Params[0], request)
	if err != nil {
		return nil, err
	}
	attrs, err := attributes(request)
	if err != nil {
		return nil, err
	}
	if err := s.tree.SetAttr(path, attrs); err != nil {
		return nil, err
	}
	if _, rebound := attrs[storage.AttrPersist]; rebound {
		// The new file receives the section's current content now.
		if err := s.Flush(); err != nil {
			return nil, err
		}
	}
	return wire.Null{}, nil
}

func (s *Store) list(_ context.Context, request *wire.Request) (wire.Value, error) {
	var path []string
	if len(request.Params) > 0 {
		var err error
		if path, err = s.itemPath(request.Params[0], request); err != nil {
			return nil, err
		}
	}
	lines, err := s.tree.List(path, storage.ListOptions{
		Tree:       request.Has(optionTree),
		Recursive:  request.Has(optionRecursive),
		OmitValues: request.Has(optionNoValues),
	})
	if err != nil {
		return nil, err
	}
	return wire.Strings(slices.Collect(lines)), nil
}

func (s *Store) get(_ context.Context, request *wire.Request) (wire.Value, error) {
	values := make(wire.List, 0, len(request.Params))
	for _, raw := range request.Params {
		path, err := s.itemPath(raw, request)
		if err != nil {
			return nil, err
		}
		node, err := s.tree.Get(path)
		if err != nil {
			return nil, err
		}
		value, err := valueOf(node)
		if err != nil {
			return nil, err
		}
		s.tree.Touch(node)
		values = append(values, value)
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

func (s *Store) add(ctx context.Context, request *wire.Request) (wire.Value, error) {
	prefix, destination, err := s.destination(request)
	if err != nil {
		return nil, err
	}
	if err := s.addTokens(ctx, s.tree, prefix, destination, request, true); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

// addTokens stores every parameter of an add request in tree. With
// programs, tokens under /bin are run instead of stored.
func (s *Store) addTokens(ctx context.Context, tree *storage.Tree, prefix string, base []string, request *wire.Request, programs bool) error {
	attrs, err := attributes(request)
	if err != nil {
		return err
	}
	binary := request.Values(wire.BinaryOption)
	if request.Has(wire.BinaryOption) && len(binary) < len(request.Params) {
		return failure.Errorf(failure.UnrecognizedParameter,
			"%d binary values for %d tokens", len(binary), len(request.Params))
	}
	mode := addMode(request)

	for index, raw := range request.Params {
		if prefix != "" {
			raw = prefix + "/" + raw
		}
		path, parsed, err := s.parse(raw, base, request)
		if err != nil {
			return err
		}
		if programs && len(path) > 0 && path[0] == storage.RootExecutable {
			if err := s.runProgram(ctx, path, parsed); err != nil {
				return err
			}
			continue
		}
		if parsed.SectionOnly() {
			return failure.Errorf(failure.MalformedToken, "%q has no name", raw)
		}

		value := []byte(parsed.Value)
		tokenAttrs := attrs
		if request.Has(wire.BinaryOption) {
			value = []byte(binary[index])
			tokenAttrs = make(map[string]string, len(attrs)+1)
			for name, attr := range attrs {
				tokenAttrs[name] = attr
			}
			tokenAttrs[storage.AttrEncoding] = storage.EncodingBinary
		} else if !parsed.HasValue {
			return failure.Errorf(failure.MalformedToken, "%q has no value", raw)
		}
		if _, err := tree.AddToken(path, parsed.Name, value, mode, tokenAttrs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadFile(_ context.Context, request *wire.Request) (wire.Value, error) {
	_, destination, err := s.destination(request)
	if err != nil {
		return nil, err
	}
	if err := checkSystem(destination, request); err != nil {
		return nil, err
	}
	reader := persist.Reader{Tree: s.tree, Mode: addMode(request)}
	for _, param := range request.Params {
		if request.Has(optionFromPars) {
			err = reader.Read(strings.NewReader(param), ".", destination)
		} else {
			if _, statErr := os.Stat(param); statErr != nil {
				return nil, failure.Errorf(failure.NotFound, "file %s not found", param)
			}
			err = reader.ReadFile(param, destination)
		}
		if err != nil {
			return nil, err
		}
	}
	return wire.Null{}, nil
}

// copy moves data between a token and a file. A destination starting
// with ':' names a token that receives the file content (or the
// source parameter itself with from_pars). A source starting with ':'
// names a token whose value is returned for the client to write.
func (s *Store) copy(_ context.Context, request *wire.Request) (wire.Value, error) {
	source, target := request.Params[0], request.Params[1]
	switch {
	case strings.HasPrefix(target, ":"):
		content := []byte(source)
		if !request.Has(optionFromPars) {
			var err error
			if content, err = os.ReadFile(source); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, failure.Errorf(failure.NotFound, "file %s not found", source)
				}
				return nil, failure.Wrap(failure.OperationFailed, err, "reading "+source)
			}
		}
		base, err := s.base(request)
		if err != nil {
			return nil, err
		}
		path, parsed, err := s.parse(target[1:], base, request)
		if err != nil {
			return nil, err
		}
		if parsed.SectionOnly() || parsed.HasValue {
			return nil, failure.Errorf(failure.MalformedToken, "%q must name a token", target[1:])
		}
		if _, err := s.tree.AddToken(path, parsed.Name, content, addMode(request), nil); err != nil {
			return nil, err
		}
		return wire.Null{}, nil

	case strings.HasPrefix(source, ":"):
		path, err := s.itemPath(source[1:], request)
		if err != nil {
			return nil, err
		}
		node, err := s.tree.Get(path)
		if err != nil {
			return nil, err
		}
		return valueOf(node)

	default:
		return nil, failure.New(failure.UnrecognizedSyntax, "cp needs a ':token' source or destination")
	}
}

func (s *Store) remove(_ context.Context, request *wire.Request) (wire.Value, error) {
	for _, raw := range request.Params {
		path, err := s.itemPath(raw, request)
		if err != nil {
			return nil, err
		}
		if err := s.tree.Remove(path, request.Has(optionPrune)); err != nil {
			return nil, err
		}
	}
	return wire.Null{}, nil
}

func (s *Store) removeSection(_ context.Context, request *wire.Request) (wire.Value, error) {
	for _, raw := range request.Params {
		path, err := s.itemPath(raw, request)
		if err != nil {
			return nil, err
		}
		if err := s.tree.RemoveSection(path); err != nil {
			return nil, err
		}
	}
	return wire.Null{}, nil
}

// createSection creates sections. A persistPath attribute binds the
// new section, and content already in that file is read in.
func (s *Store) createSection(_ context.Context, request *wire.Request) (wire.Value, error) {
	attrs, err := attributes(request)
	if err != nil {
		return nil, err
	}
	for _, raw := range request.Params {
		path, err := s.itemPath(raw, request)
		if err != nil {
			return nil, err
		}
		section, err := s.tree.CreateSection(path, attrs)
		if err != nil {
			return nil, err
		}
		if !section.OwnsBinding() || attrs[storage.AttrPersist] == "" {
			continue
		}
		file, err := persist.ResolveFile(section)
		if err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(file); statErr == nil {
			reader := persist.Reader{Tree: s.tree, Mode: storage.Overwrite}
			if err := s.tree.Load(func() error { return reader.ReadFile(file, path) }); err != nil {
				return nil, err
			}
		}
	}
	if _, rebound := attrs[storage.AttrPersist]; rebound {
		if err := s.Flush(); err != nil {
			return nil, err
		}
	}
	return wire.Null{}, nil
}

func (s *Store) rename(_ context.Context, request *wire.Request) (wire.Value, error) {
	source, err := s.itemPath(request.Params[0], request)
	if err != nil {
		return nil, err
	}
	destination, err := s.itemPath(request.Params[1], request)
	if err != nil {
		return nil, err
	}
	if _, err := s.tree.Rename(source, destination, request.Has(optionForce)); err != nil {
		return nil, err
	}
	return wire.Null{}, nil
}

func (s *Store) fsInfo(_ context.Context, request *wire.Request) (wire.Value, error) {
	var path []string
	if len(request.Params) > 0 {
		var err error
		if path, err = s.itemPath(request.Params[0], request); err != nil {
			return nil, err
		}
	}
	stats, err := s.tree.Stats(path)
	if err != nil {
		return nil, err
	}
	info := map[string]string{
		"num_of_sections":  strconv.Itoa(stats.Sections),
		"num_of_tokens":    strconv.Itoa(stats.Tokens),
		"max_key_length":   strconv.Itoa(stats.MaxKeyLength),
		"max_value_length": strconv.Itoa(stats.MaxValueLength),
		"avg_key_length":   strconv.FormatFloat(stats.AvgKeyLength, 'f', -1, 64),
		"avg_value_length": strconv.FormatFloat(stats.AvgValueLength, 'f', -1, 64),
		"total_size_bytes": strconv.Itoa(stats.TotalBytes),
	}
	if len(path) == 0 {
		info["datafile"] = s.config.Datafile
		info["pending_changes"] = strconv.Itoa(s.tree.Changes().Len())
	}
	return wire.StringMap(info), nil
}
