package lazy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/hyperstate/internal/ctxlog"
)

// Serializable is the capability interface for custom-coded blob types.
// EncodeCustom produces the opaque binary payload written to the backing
// file; DecodeCustom hydrates a freshly allocated value from it.
// Implementations must use pointer receivers.
type Serializable interface {
	EncodeCustom() ([]byte, error)
	DecodeCustom(data []byte) error
}

// MarshalPayload is the default payload framing for Serializable
// implementations that have no format of their own.
func MarshalPayload(v any) ([]byte, error) { return msgpack.Marshal(v) }

// UnmarshalPayload is the inverse of MarshalPayload.
func UnmarshalPayload(data []byte, out any) error { return msgpack.Unmarshal(data, out) }

// Marker is the value a blob field carries inside the record file. The
// payload itself always lives in a sibling backing file.
const Marker = "<blob>"

// FileSuffix terminates every backing file name.
const FileSuffix = ".blob"

// BlobError reports a failure to read or decode one backing file. It is
// raised by Force, never by record load.
type BlobError struct {
	FieldPath string
	File      string
	Err       error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob field %q: backing file %q: %v", e.FieldPath, e.File, e.Err)
}

func (e *BlobError) Unwrap() error { return e.Err }

// BackingFileName derives the backing file name for a blob field from the
// owning record's stem and the field's dotted path.
func BackingFileName(stem, fieldPath string) string {
	return stem + "." + fieldPath + FileSuffix
}

// Ref is the handle type a blob field decodes to. A Ref produced by record
// decode is unloaded: it knows its backing file but has not read it. A Ref
// built with NewRef wraps an in-memory value and has no backing file until
// the next checkpoint save.
//
// A Ref is owned by exactly one record field; handles must not be shared
// between fields.
type Ref[T Serializable] struct {
	fieldPath string
	dir       string
	file      string
	value     T
	loaded    bool
}

// NewRef wraps an in-memory value, typically when constructing the initial
// state of a run.
func NewRef[T Serializable](v T) *Ref[T] {
	return &Ref[T]{value: v, loaded: true}
}

// Force returns the blob value, reading and decoding the backing file on
// first access. All later calls return the cached value.
func (r *Ref[T]) Force(ctx context.Context) (T, error) {
	var zero T
	if r.loaded {
		return r.value, nil
	}
	ctxlog.FromContext(ctx).Debug("Forcing blob field.", "field", r.fieldPath, "file", r.file)

	data, err := os.ReadFile(filepath.Join(r.dir, r.file))
	if err != nil {
		return zero, &BlobError{FieldPath: r.fieldPath, File: r.file, Err: err}
	}
	if err := r.value.DecodeCustom(data); err != nil {
		return zero, &BlobError{FieldPath: r.fieldPath, File: r.file, Err: err}
	}
	r.loaded = true
	return r.value, nil
}

// Store replaces the blob value and clears any cached decode state. The
// backing file is rewritten on the next checkpoint save.
func (r *Ref[T]) Store(v T) {
	r.value = v
	r.loaded = true
}

// Loaded reports whether the value is resident in memory.
func (r *Ref[T]) Loaded() bool { return r.loaded }

// FieldPath returns the dotted path of the owning record field.
func (r *Ref[T]) FieldPath() string { return r.fieldPath }

// FileName returns the backing file name, or "" for a fresh handle that has
// never been saved.
func (r *Ref[T]) FileName() string { return r.file }

// WriteTo persists the payload into dir under the naming convention for the
// given record stem. A loaded handle encodes its value; an unloaded handle
// copies its existing backing file byte for byte, so saving never forces a
// decode. An unloaded handle whose backing file is gone fails with a
// BlobError.
func (r *Ref[T]) WriteTo(dir, stem string) error {
	name := BackingFileName(stem, r.fieldPath)
	target := filepath.Join(dir, name)
	if r.loaded {
		payload, err := r.value.EncodeCustom()
		if err != nil {
			return &BlobError{FieldPath: r.fieldPath, File: name, Err: err}
		}
		return os.WriteFile(target, payload, 0o644)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, r.file))
	if err != nil {
		return &BlobError{FieldPath: r.fieldPath, File: r.file, Err: err}
	}
	return os.WriteFile(target, data, 0o644)
}

// Rebind points the handle at a published checkpoint directory. Called by
// the checkpoint manager after the directory rename.
func (r *Ref[T]) Rebind(dir, stem string) {
	r.dir = dir
	r.file = BackingFileName(stem, r.fieldPath)
}

// BindPath records the dotted path of the owning field. The codec calls
// this during encode so fresh handles learn their position in the record.
func (r *Ref[T]) BindPath(fieldPath string) { r.fieldPath = fieldPath }

func (r *Ref[T]) attach(v Serializable, fieldPath, dir, file string) error {
	tv, ok := v.(T)
	if !ok {
		return fmt.Errorf("blob value type %T does not satisfy handle type", v)
	}
	r.value = tv
	r.fieldPath = fieldPath
	r.dir = dir
	r.file = file
	r.loaded = false
	return nil
}

// Handle is the type-erased view of a Ref used by the codec and the
// checkpoint manager.
type Handle interface {
	FieldPath() string
	FileName() string
	Loaded() bool
	WriteTo(dir, stem string) error
	Rebind(dir, stem string)
	BindPath(fieldPath string)
	attach(v Serializable, fieldPath, dir, file string) error
}

var (
	handleType       = reflect.TypeOf((*Handle)(nil)).Elem()
	serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()
)

// IsHandleType reports whether a Go type is a *Ref[T] instantiation.
func IsHandleType(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t.Implements(handleType)
}

// InnerTypeName returns the name of T for a *Ref[T] type, used as the blob
// type name in descriptors.
func InnerTypeName(t reflect.Type) (string, error) {
	inner, err := innerType(t)
	if err != nil {
		return "", err
	}
	return inner.Elem().Name(), nil
}

func innerType(t reflect.Type) (reflect.Type, error) {
	if !IsHandleType(t) {
		return nil, fmt.Errorf("%s is not a blob handle type", t)
	}
	vf, ok := t.Elem().FieldByName("value")
	if !ok {
		return nil, fmt.Errorf("%s is not a blob handle type", t)
	}
	inner := vf.Type
	if inner.Kind() != reflect.Pointer || inner.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("blob type %s must be a pointer to a struct", inner)
	}
	return inner, nil
}

// NewDecodedHandle allocates an unloaded *Ref[T] of the given handle type,
// bound to its backing file. The inner value is a fresh zero instance that
// DecodeCustom fills on first Force.
func NewDecodedHandle(t reflect.Type, fieldPath, dir, file string) (reflect.Value, error) {
	inner, err := innerType(t)
	if err != nil {
		return reflect.Value{}, err
	}
	value := reflect.New(inner.Elem())
	ser, ok := value.Interface().(Serializable)
	if !ok {
		return reflect.Value{}, fmt.Errorf("blob type %s does not implement Serializable", inner)
	}
	rv := reflect.New(t.Elem())
	h := rv.Interface().(Handle)
	if err := h.attach(ser, fieldPath, dir, file); err != nil {
		return reflect.Value{}, err
	}
	return rv, nil
}

// IsSerializableType reports whether a Go type implements the Serializable
// capability, directly or through its pointer type.
func IsSerializableType(t reflect.Type) bool {
	return t.Implements(serializableType) || reflect.PointerTo(t).Implements(serializableType)
}
