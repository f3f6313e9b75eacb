// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/persist"
	"github.com/al-berger/regd/lib/secure"
	"github.com/al-berger/regd/lib/storage"
)

// Config configures a Store.
type Config struct {
	// Datafile backs /sav. Without it the "pers" option fails.
	Datafile string

	// BinDatafile backs /bin.
	BinDatafile string

	// SecureFile is the encrypted token file read by get_sec and
	// load_file_sec. SecureSource decrypts it.
	SecureFile   string
	SecureSource secure.Source

	// ProgramTimeout bounds programs run through /bin.
	ProgramTimeout time.Duration

	UID   int
	GID   int
	Clock clock.Clock

	Logger *slog.Logger
}

// Store holds the trees served by the worker.
type Store struct {
	config  Config
	logger  *slog.Logger
	clock   clock.Clock
	tree    *storage.Tree
	flusher *persist.Flusher

	secure       *storage.Tree
	secureLoaded bool
}

const defaultProgramTimeout = 30 * time.Second

// Open builds the registry tree and loads the configured data files.
func Open(config Config) (*Store, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.ProgramTimeout <= 0 {
		config.ProgramTimeout = defaultProgramTimeout
	}

	store := &Store{config: config, logger: config.Logger, clock: config.Clock}
	store.tree = storage.New(storage.Options{
		Clock: config.Clock,
		UID:   config.UID,
		GID:   config.GID,
		Roots: storage.RegistryRoots(),
		BeforeRebind: func(previousOwner *storage.Node) error {
			return store.flusher.FlushOwner(previousOwner)
		},
		CheckBinding: persist.BindingChecker(func() *storage.Tree { return store.tree }),
	})
	store.flusher = persist.NewFlusher(store.tree, config.Logger)
	store.secure = storage.New(storage.Options{Clock: config.Clock, UID: config.UID, GID: config.GID})

	if config.Datafile != "" {
		if err := persist.Load(store.tree, []string{storage.RootPersistent}, config.Datafile); err != nil {
			return nil, failure.Wrap(failure.OperationFailed, err, "cannot read the data file")
		}
	}
	if config.BinDatafile != "" {
		if err := persist.Load(store.tree, []string{storage.RootExecutable}, config.BinDatafile); err != nil {
			return nil, failure.Wrap(failure.OperationFailed, err, "cannot read the /bin data file")
		}
	}

	store.setStat("started", config.Clock.Now().UTC().Format(time.RFC3339))
	store.logger.Info("storage opened",
		"datafile", config.Datafile,
		"bin_datafile", config.BinDatafile,
	)
	return store, nil
}

// Tree returns the registry tree.
func (s *Store) Tree() *storage.Tree { return s.tree }

// Flush writes pending changes to the data files.
func (s *Store) Flush() error {
	pending := s.tree.Changes().Len()
	if pending == 0 {
		return nil
	}
	err := s.flusher.Flush()
	if err != nil {
		s.countStat("flush_failures")
		return err
	}
	s.countStat("flushes")
	return nil
}

// CountRequest increments the request counter under /_sys/stat.
func (s *Store) CountRequest() { s.countStat("requests") }

func statPath() []string { return []string{storage.RootSystem, "stat"} }

func (s *Store) countStat(name string) {
	if _, err := s.tree.AddToken(statPath(), name, []byte("1"), storage.Sum, nil); err != nil {
		s.logger.Warn("updating counter", "counter", name, "error", err)
	}
}

func (s *Store) setStat(name, value string) {
	if _, err := s.tree.AddToken(statPath(), name, []byte(value), storage.Overwrite, nil); err != nil {
		s.logger.Warn("updating counter", "counter", name, "error", err)
	}
}

// Stat returns a counter value, or 0.
func (s *Store) Stat(name string) int {
	node, err := s.tree.Get(append(statPath(), name))
	if err != nil {
		return 0
	}
	value, _ := strconv.Atoi(node.Text())
	return value
}
