package objstore

// Tag is a parsed annotated tag.
type Tag struct {
	// Object is the hash of the tagged object.
	Object Hash

	// TargetType is the declared kind of Object, as written ("commit",
	// "tree", ...).
	TargetType string

	// Name is the tag name.
	Name string

	// Tagger is nil for old tags that carry no tagger line.
	Tagger *Stamp

	// Extra holds any further headers in their recorded order.
	Extra []Header

	// Message is everything after the blank line that ends the headers,
	// including a trailing signature block if there is one.
	Message string

	hash Hash

	// noBody marks a stored tag whose headers end the payload.
	noBody bool
}

func parseTag(oid Hash, raw []byte) (*Tag, error) {
	hdrs, msg, hasBody, err := splitObject(raw)
	if err != nil {
		return nil, err
	}
	t := &Tag{hash: oid, Message: msg, noBody: !hasBody}
	var haveObject, haveType, haveName bool
	for _, h := range hdrs {
		switch {
		case h.Key == "object" && !haveObject:
			if t.Object, err = ParseHash(h.Value); err != nil {
				return nil, corruptf("tag object %q", h.Value)
			}
			haveObject = true
		case h.Key == "type" && !haveType:
			if _, err := ParseObjectType(h.Value); err != nil {
				return nil, err
			}
			t.TargetType, haveType = h.Value, true
		case h.Key == "tag" && !haveName:
			t.Name, haveName = h.Value, true
		case h.Key == "tagger" && t.Tagger == nil:
			st, err := parseStamp(h.Value)
			if err != nil {
				return nil, err
			}
			t.Tagger = &st
		default:
			t.Extra = append(t.Extra, h)
		}
	}
	if !haveObject || !haveType || !haveName {
		return nil, corruptf("tag lacks object, type or name")
	}
	return t, nil
}

// Type implements Object.
func (t *Tag) Type() ObjectType { return ObjTag }

// Hash implements Object.
func (t *Tag) Hash() Hash {
	if !t.hash.IsZero() {
		return t.hash
	}
	return HashObject(ObjTag, t.Serialize())
}

// Serialize returns the canonical payload.
func (t *Tag) Serialize() []byte {
	out := make([]byte, 0, 160+len(t.Message))
	out = appendHeader(out, "object", t.Object.String())
	out = appendHeader(out, "type", t.TargetType)
	out = appendHeader(out, "tag", t.Name)
	if t.Tagger != nil {
		out = appendHeader(out, "tagger", t.Tagger.String())
	}
	for _, h := range t.Extra {
		out = appendHeader(out, h.Key, h.Value)
	}
	if t.noBody && t.Message == "" {
		return out
	}
	out = append(out, '\n')
	return append(out, t.Message...)
}
