// Package objstore reads and writes a content-addressed object store laid
// out in the Git repository format, without shelling out to the Git
// executable.
//
// A Store resolves 20-byte SHA-1 object IDs to typed objects (commits, trees,
// tags and blobs) whether they are stored loose, as individually compressed
// files under objects/xx/, or packed, inside *.pack archives indexed by
// *.idx files and compressed against each other with offset and reference
// deltas.
//
// IMPLEMENTATION:
// Open parses every pack index up front, in parallel, and memory-maps the
// companion packs. A lookup consults an injectable object cache, then the
// loose object directory, then the packs in file-name order. Delta chains are
// resolved recursively with bounded depth and cycle detection, and every
// resolved object is cached before it is returned.
//
// On top of raw access the package implements the object model: path lookup
// in trees, copy-on-write tree updates that produce the new trees a caller
// must persist, recursive tree diffs, and topological commit history.
//
// The store is safe for concurrent readers. Loose writes are atomic renames
// and never touch pack structures.
package objstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxDeltaDepth = 50

	// maxPeelDepth bounds tag-of-tag chains followed by Peel.
	maxPeelDepth = 32
)

// ErrTypeMismatch reports an object whose kind differs from the one the
// caller asked for.
var ErrTypeMismatch = errors.New("unexpected object type")

// Store provides concurrent access to the loose objects and packs of one
// repository.
//
// A Store maps every *.pack / *.idx pair found in objects/pack, keeps the
// parsed index tables in memory, inflates objects on demand and resolves
// delta chains up to maxDeltaDepth. All methods are safe for concurrent use
// by multiple goroutines.
type Store struct {
	// gitDir is the repository directory holding objects/ and refs/.
	gitDir string

	// objectsDir is gitDir/objects.
	objectsDir string

	// packs contains one immutable packFile per mapped pack, in search
	// order.
	packs []*packFile

	// cache holds fully-resolved objects.
	cache ObjectCache

	// trees caches parsed trees for listings and diffs.
	trees *treeCache

	// treeCacheSize is the capacity of trees.
	treeCacheSize int

	// codec inflates loose files and pack entries and deflates new loose
	// objects.
	codec Codec

	// log receives diagnostics. It discards by default.
	log *slog.Logger

	// mu guards live configuration such as maxDeltaDepth.
	mu sync.RWMutex

	// maxDeltaDepth limits how many recursive delta hops a lookup will
	// follow before aborting.
	maxDeltaDepth int

	// verifyCRC enables CRC-32 validation of every entry read from a pack
	// whose index records checksums.
	verifyCRC bool

	// verifyHash makes Object recompute the hash of every decoded object.
	verifyHash bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithCache replaces the default ARC object cache.
func WithCache(c ObjectCache) Option { return func(s *Store) { s.cache = c } }

// WithCodec replaces the default zlib codec.
func WithCodec(c Codec) Option { return func(s *Store) { s.codec = c } }

// WithLogger routes diagnostics to l.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// WithMaxDeltaDepth sets the maximum delta chain depth. The default of 50
// matches Git's own limit.
func WithMaxDeltaDepth(n int) Option { return func(s *Store) { s.maxDeltaDepth = n } }

// WithVerifyCRC enables CRC-32 checks of packed entries as they are read.
func WithVerifyCRC(on bool) Option { return func(s *Store) { s.verifyCRC = on } }

// WithHashVerification controls whether Object recomputes the hash of each
// decoded object and rejects mismatches. It is on by default.
func WithHashVerification(on bool) Option { return func(s *Store) { s.verifyHash = on } }

// WithTreeCacheSize sets how many parsed trees are retained.
func WithTreeCacheSize(n int) Option { return func(s *Store) { s.treeCacheSize = n } }

// Open opens the repository whose Git directory is gitDir (the directory
// that contains objects/ and refs/, i.e. ".git" for a work tree).
//
// Open eagerly parses all pack indices so that subsequent lookups are a
// table search followed by lazy inflation. A repository without packs, or
// without an objects/pack directory, is valid.
//
// Error semantics:
//   - gitDir without an objects directory is an error.
//   - A malformed index or a pack whose header is not "PACK" version 2
//     fails Open with the corresponding error kind.
func Open(gitDir string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(gitDir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		gitDir:        abs,
		objectsDir:    filepath.Join(abs, "objects"),
		codec:         ZlibCodec(),
		log:           slog.New(slog.DiscardHandler),
		maxDeltaDepth: defaultMaxDeltaDepth,
		verifyHash:    true,
		treeCacheSize: defaultTreeCacheSize,
	}
	for _, o := range opts {
		o(s)
	}
	if st, err := os.Stat(s.objectsDir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%s is not a git directory: objects missing", gitDir)
	}
	if s.cache == nil {
		if s.cache, err = NewARCCache(DefaultCacheSize); err != nil {
			return nil, fmt.Errorf("failed to create ARC cache: %w", err)
		}
	}
	if s.trees, err = newTreeCache(s, s.treeCacheSize); err != nil {
		return nil, err
	}

	paths, err := packPaths(filepath.Join(s.objectsDir, "pack"))
	if err != nil {
		return nil, err
	}
	packs := make([]*packFile, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			pf, err := openPack(p)
			if err != nil {
				return err
			}
			packs[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, pf := range packs {
			if pf != nil {
				_ = pf.close()
			}
		}
		return nil, err
	}
	s.packs = packs

	for _, pf := range packs {
		s.log.Debug("pack opened",
			slog.String("pack", pf.name),
			slog.Int("objects", pf.idx.count()),
			slog.Int("idx_version", pf.idx.version))
	}
	return s, nil
}

// GitDir returns the absolute repository directory.
func (s *Store) GitDir() string { return s.gitDir }

// SetMaxDeltaDepth sets the maximum delta chain depth.
//
// Lower values reduce worst-case CPU usage but may reject valid objects.
// This method is safe for concurrent use with Get.
func (s *Store) SetMaxDeltaDepth(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDeltaDepth = depth
}

func (s *Store) deltaDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxDeltaDepth
}

// Close unmaps all pack files.
//
// After Close returns, the store must not be used for lookups. Calling Close
// multiple times is safe; the first error that occurred while unmapping is
// returned.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		for _, pf := range s.packs {
			if err := pf.close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.cache.Purge()
	})
	return s.closeErr
}

// Get returns the payload and kind of the object identified by oid.
//
// The lookup consults the object cache, then the loose object directory,
// then every pack in search order; the first pack that lists the hash is
// authoritative. Delta entries are resolved against their bases, recursively
// and with cycle detection.
//
// The returned slice is shared with the cache and must not be modified.
// Get is safe for concurrent use by multiple goroutines.
func (s *Store) Get(oid Hash) ([]byte, ObjectType, error) {
	rec, err := s.record(oid)
	if err != nil {
		return nil, ObjBad, err
	}
	return rec.Data, rec.Type, nil
}

// record is Get returning a Record.
func (s *Store) record(oid Hash) (Record, error) {
	ctx := newDeltaContext(s.deltaDepth())
	ctx.visited[oid] = true
	rec, err := s.lookup(oid, ctx)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.log.Debug("object lookup failed", slog.String("oid", oid.String()), slog.Any("err", err))
	}
	return rec, err
}

// lookup is the resolution path shared by top-level lookups and ref-delta
// bases.
func (s *Store) lookup(oid Hash, ctx *deltaContext) (Record, error) {
	if rec, ok := s.cache.Get(oid); ok {
		return rec, nil
	}

	rec, err := s.readLoose(oid)
	switch {
	case err == nil:
		s.cache.Add(oid, rec)
		return rec, nil
	case !errors.Is(err, ErrObjectNotFound):
		return Record{}, err
	}

	for i, pf := range s.packs {
		off, ok := pf.idx.locate(oid)
		if !ok {
			continue
		}
		rec, err := s.readPacked(i, off, ctx)
		if err != nil {
			return Record{}, fmt.Errorf("%s in pack %s: %w", oid, pf.name, err)
		}
		s.cache.Add(oid, rec)
		return rec, nil
	}
	return Record{}, notFound(oid)
}

// Has reports whether oid is stored, loose or packed. It does not inflate
// anything.
func (s *Store) Has(oid Hash) bool {
	if _, ok := s.cache.Get(oid); ok {
		return true
	}
	if s.hasLoose(oid) {
		return true
	}
	for _, pf := range s.packs {
		if _, ok := pf.idx.locate(oid); ok {
			return true
		}
	}
	return false
}

// Object returns the typed wrapper for oid: a *Commit, *Tree, *Tag or *Blob.
//
// Unless hash verification has been disabled, the decoded object is
// re-serialized and its hash compared with oid; a mismatch is
// ErrCorruptObject.
func (s *Store) Object(oid Hash) (Object, error) {
	rec, err := s.record(oid)
	if err != nil {
		return nil, err
	}
	if rec.Type == ObjTree {
		return s.trees.get(oid)
	}
	return s.decode(oid, rec)
}

// decode parses rec and checks the result against oid.
func (s *Store) decode(oid Hash, rec Record) (Object, error) {
	obj, err := decodeObject(s, oid, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", oid, err)
	}
	if s.verifyHash {
		if got := HashObject(obj.Type(), obj.Serialize()); got != oid {
			return nil, corruptf("%s re-encodes to %s", oid, got)
		}
	}
	return obj, nil
}

// Commit returns the commit identified by oid.
func (s *Store) Commit(oid Hash) (*Commit, error) {
	obj, err := s.Object(oid)
	if err != nil {
		return nil, err
	}
	c, ok := obj.(*Commit)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %v, not a commit", ErrTypeMismatch, oid, obj.Type())
	}
	return c, nil
}

// Tree returns the tree identified by oid. Parsed trees are cached.
func (s *Store) Tree(oid Hash) (*Tree, error) { return s.trees.get(oid) }

// Tag returns the annotated tag identified by oid.
func (s *Store) Tag(oid Hash) (*Tag, error) {
	obj, err := s.Object(oid)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*Tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %v, not a tag", ErrTypeMismatch, oid, obj.Type())
	}
	return t, nil
}

// Blob returns the blob identified by oid.
func (s *Store) Blob(oid Hash) (*Blob, error) {
	obj, err := s.Object(oid)
	if err != nil {
		return nil, err
	}
	b, ok := obj.(*Blob)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %v, not a blob", ErrTypeMismatch, oid, obj.Type())
	}
	return b, nil
}

// Peel follows annotated tags starting at oid until it reaches an object
// that is not a tag, and returns that object's hash and kind.
func (s *Store) Peel(oid Hash) (Hash, ObjectType, error) {
	for range maxPeelDepth {
		_, typ, err := s.Get(oid)
		if err != nil {
			return Hash{}, ObjBad, err
		}
		if typ != ObjTag {
			return oid, typ, nil
		}
		tag, err := s.Tag(oid)
		if err != nil {
			return Hash{}, ObjBad, err
		}
		oid = tag.Object
	}
	return Hash{}, ObjBad, corruptf("tag chain at %s too long", oid)
}
