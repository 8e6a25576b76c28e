// Package snapshot implements whole-keyspace dump/restore. SAVE and LOAD
// run synchronously on whichever goroutine calls them — simple, and it
// stalls I/O for the duration, but it is correct — going through
// keyspace.Store's own Snapshot/Restore methods, which take the whole
// copy or the whole clear-and-rebuild under one lock acquisition. Callers
// — a client SAVE/LOAD command dispatched from the reactor, or an admin
// HTTP request — never need to hold a lock of their own.
//
// A singleflight.Group additionally coalesces concurrent SAVE triggers —
// a client SAVE command racing an admin-triggered save — into one
// snapshot write.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/photondb/photondb/internal/keyspace"
)

// entryType mirrors keyspace.Kind's wire encoding.
const (
	entryTypeString = uint32(keyspace.KindString)
	entryTypeZSet   = uint32(keyspace.KindZSet)
)

// Manager persists and restores a keyspace.Store against a single file.
type Manager struct {
	path  string
	store *keyspace.Store
	log   *zap.Logger
	sg    singleflight.Group
}

// New returns a Manager writing to and reading from path (photon.rdb in
// the current working directory, by default).
func New(path string, store *keyspace.Store, log *zap.Logger) *Manager {
	return &Manager{path: path, store: store, log: log.Named("snapshot")}
}

// Save writes the entire keyspace to disk. Concurrent Save calls
// coalesce into a single write.
func (m *Manager) Save() error {
	_, err, _ := m.sg.Do("save", func() (any, error) {
		return nil, m.save()
	})
	return err
}

func (m *Manager) save() error {
	var buf bytes.Buffer

	entries := m.store.Snapshot()

	writeU32(&buf, uint32(len(entries)))
	for _, e := range entries {
		writeU32(&buf, uint32(len(e.Key)))
		buf.WriteString(e.Key)

		switch e.Kind {
		case keyspace.KindString:
			writeU32(&buf, entryTypeString)
			writeU32(&buf, uint32(len(e.Str)))
			buf.WriteString(e.Str)
		case keyspace.KindZSet:
			writeU32(&buf, entryTypeZSet)
			writeU32(&buf, uint32(len(e.Members)))
			for _, mem := range e.Members {
				writeF64(&buf, mem.Score)
				writeU32(&buf, uint32(len(mem.Name)))
				buf.WriteString(mem.Name)
			}
		}
	}

	if err := atomicWriteFile(m.path, buf.Bytes()); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", m.path, err)
	}
	m.log.Info("snapshot saved", zap.String("path", m.path), zap.Int("entries", len(entries)))
	return nil
}

// Load clears the keyspace and restores it from disk. Concurrent Load
// calls coalesce into a single read.
func (m *Manager) Load() error {
	_, err, _ := m.sg.Do("load", func() (any, error) {
		return nil, m.load()
	})
	return err
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("snapshot: load %s: %w", m.path, err)
	}
	r := bytes.NewReader(data)

	nEntries, err := readU32(r)
	if err != nil {
		return fmt.Errorf("snapshot: corrupt header: %w", err)
	}

	entries := make([]keyspace.SnapshotEntry, 0, nEntries)
	for i := uint32(0); i < nEntries; i++ {
		klen, err := readU32(r)
		if err != nil {
			return fmt.Errorf("snapshot: corrupt entry %d: %w", i, err)
		}
		key, err := readBytes(r, klen)
		if err != nil {
			return fmt.Errorf("snapshot: corrupt entry %d key: %w", i, err)
		}

		typ, err := readU32(r)
		if err != nil {
			return fmt.Errorf("snapshot: corrupt entry %d type: %w", i, err)
		}

		switch typ {
		case entryTypeString:
			vlen, err := readU32(r)
			if err != nil {
				return fmt.Errorf("snapshot: corrupt entry %d value: %w", i, err)
			}
			val, err := readBytes(r, vlen)
			if err != nil {
				return fmt.Errorf("snapshot: corrupt entry %d value: %w", i, err)
			}
			entries = append(entries, keyspace.SnapshotEntry{Key: string(key), Kind: keyspace.KindString, Str: string(val)})

		case entryTypeZSet:
			nMembers, err := readU32(r)
			if err != nil {
				return fmt.Errorf("snapshot: corrupt entry %d member count: %w", i, err)
			}
			members := make([]keyspace.ZQueryResult, 0, nMembers)
			for j := uint32(0); j < nMembers; j++ {
				score, err := readF64(r)
				if err != nil {
					return fmt.Errorf("snapshot: corrupt entry %d member %d: %w", i, j, err)
				}
				nlen, err := readU32(r)
				if err != nil {
					return fmt.Errorf("snapshot: corrupt entry %d member %d: %w", i, j, err)
				}
				name, err := readBytes(r, nlen)
				if err != nil {
					return fmt.Errorf("snapshot: corrupt entry %d member %d: %w", i, j, err)
				}
				members = append(members, keyspace.ZQueryResult{Name: string(name), Score: score})
			}
			entries = append(entries, keyspace.SnapshotEntry{Key: string(key), Kind: keyspace.KindZSet, Members: members})

		default:
			return fmt.Errorf("snapshot: entry %d has unknown type %d", i, typ)
		}
	}

	m.store.Restore(entries)
	m.log.Info("snapshot loaded", zap.String("path", m.path), zap.Int("entries", int(nEntries)))
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func writeF64(buf *bytes.Buffer, v float64) {
	binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readF64(r *bytes.Reader) (float64, error) {
	var bits uint64
	if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func readBytes(r *bytes.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// atomicWriteFile writes data to path via a temp file + rename so a
// crash mid-write never leaves a half-written snapshot on disk.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
