package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// loosePath returns objects/xx/<38 hex> for oid.
func (s *Store) loosePath(oid Hash) string {
	hex := oid.String()
	return filepath.Join(s.objectsDir, hex[:2], hex[2:])
}

// readLoose reads and validates the loose object file for oid.
//
// A missing file is ErrObjectNotFound. Anything else that is wrong with the
// file (a broken DEFLATE stream, a missing NUL, an unknown type name, a
// length that disagrees with the payload) is ErrCorruptObject.
func (s *Store) readLoose(oid Hash) (Record, error) {
	var raw []byte
	err := withSharedLock(s.loosePath(oid), func(f *os.File) error {
		zr, err := s.codec.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptObject, err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("%w: decompress: %w", ErrCorruptObject, err)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, notFound(oid)
	}
	if err != nil {
		return Record{}, fmt.Errorf("loose %s: %w", oid, err)
	}

	rec, err := parseEnvelope(raw)
	if err != nil {
		return Record{}, fmt.Errorf("loose %s: %w", oid, err)
	}
	return rec, nil
}

// parseEnvelope splits "<type> <len>\x00<payload>" into a Record.
func parseEnvelope(raw []byte) (Record, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return Record{}, corruptf("object header not terminated")
	}
	hdr := raw[:nul]
	sp := bytes.IndexByte(hdr, ' ')
	if sp < 0 {
		return Record{}, corruptf("object header %q has no size", hdr)
	}
	typ, err := ParseObjectType(string(hdr[:sp]))
	if err != nil {
		return Record{}, err
	}
	lenText := hdr[sp+1:]
	if len(lenText) == 0 || (len(lenText) > 1 && lenText[0] == '0') {
		return Record{}, corruptf("object header size %q", lenText)
	}
	for _, c := range lenText {
		if c < '0' || c > '9' {
			return Record{}, corruptf("object header size %q", lenText)
		}
	}
	size, err := strconv.ParseUint(string(lenText), 10, 63)
	if err != nil {
		return Record{}, corruptf("object header size %q", lenText)
	}
	payload := raw[nul+1:]
	if uint64(len(payload)) != size {
		return Record{}, corruptf("object declares %d bytes, has %d", size, len(payload))
	}
	return Record{Type: typ, Data: payload}, nil
}

// hasLoose reports whether a loose file exists for oid.
func (s *Store) hasLoose(oid Hash) bool {
	_, err := os.Stat(s.loosePath(oid))
	return err == nil
}

// WriteRaw stores payload as a loose object of kind typ and returns its
// hash.
//
// The compressed envelope is written to a temporary file in the fan-out
// directory and renamed into place, so readers never observe a partial
// object. Writing an object that already exists is a no-op.
func (s *Store) WriteRaw(typ ObjectType, payload []byte) (Hash, error) {
	if !typ.isBase() {
		return Hash{}, fmt.Errorf("%w: cannot store %v", ErrTypeMismatch, typ)
	}
	oid := HashObject(typ, payload)
	if s.Has(oid) {
		return oid, nil
	}

	path := s.loosePath(oid)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Hash{}, err
	}
	tmp, err := os.CreateTemp(dir, "tmp_obj_")
	if err != nil {
		return Hash{}, err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	zw, err := s.codec.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		return Hash{}, err
	}
	if _, err := zw.Write(envelopeHeader(typ, len(payload))); err != nil {
		_ = tmp.Close()
		return Hash{}, err
	}
	if _, err := zw.Write(payload); err != nil {
		_ = tmp.Close()
		return Hash{}, err
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return Hash{}, err
	}
	if err := tmp.Close(); err != nil {
		return Hash{}, err
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return Hash{}, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		if s.hasLoose(oid) {
			return oid, nil
		}
		return Hash{}, err
	}
	tmpName = ""

	s.log.Debug("loose object written", "oid", oid.String(), "type", typ.String(), "size", len(payload))
	return oid, nil
}

// WriteObject stores the canonical serialization of obj as a loose object.
func (s *Store) WriteObject(obj Object) (Hash, error) {
	return s.WriteRaw(obj.Type(), obj.Serialize())
}

// WriteTreeUpdate persists every tree created by an UpdateNode call, the
// innermost first, and returns the hash of the new root.
func (s *Store) WriteTreeUpdate(u *TreeUpdate) (Hash, error) {
	for _, t := range u.Created {
		if _, err := s.WriteObject(t); err != nil {
			return Hash{}, err
		}
	}
	return u.Root.Hash(), nil
}
