package objstore

// Blob is opaque file content.
type Blob struct {
	// Data is the file content. It may be shared with the object cache and
	// must not be modified.
	Data []byte

	hash Hash
}

// NewBlob wraps data as a blob.
func NewBlob(data []byte) *Blob { return &Blob{Data: data} }

// Type implements Object.
func (b *Blob) Type() ObjectType { return ObjBlob }

// Hash implements Object.
func (b *Blob) Hash() Hash {
	if !b.hash.IsZero() {
		return b.hash
	}
	return HashObject(ObjBlob, b.Data)
}

// Serialize implements Object.
func (b *Blob) Serialize() []byte { return b.Data }
