package messaging

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	oaerrors "go.pilab.hu/openauth/errors"
)

// PartEncoder lets a field type control its own wire representation.
type PartEncoder interface {
	EncodePart() (string, error)
}

// PartDecoder is the inverse of PartEncoder, implemented on a pointer.
type PartDecoder interface {
	DecodePart(value string) error
}

// Part describes one named part of a message type, declared through a struct
// tag of the form:
//
//	Field string `msg:"oauth_token,required,signed,empty"`
//
// Options: required (decoding fails when absent), signed (participates in an
// explicit signed-part list, OpenID style), empty (an empty value is legal).
type Part struct {
	Name       string
	Required   bool
	AllowEmpty bool
	Signed     bool

	index []int
	typ   reflect.Type
}

// Description is the part layout of a message type. Part order is declaration
// order, which is significant wherever a signed subset must be reproduced
// byte-for-byte.
type Description struct {
	parts  []*Part
	byName map[string]*Part
}

// Parts returns the parts in declaration order.
func (d *Description) Parts() []*Part { return d.parts }

// SignedParts returns the names of parts flagged signed, in declaration order.
func (d *Description) SignedParts() []string {
	var names []string
	for _, p := range d.parts {
		if p.Signed {
			names = append(names, p.Name)
		}
	}
	return names
}

var descriptions sync.Map // reflect.Type -> *Description

// Describe returns the cached part layout of a message, building it on first
// use. The message must be a non-nil struct pointer with unique part names.
func Describe(m Message) (*Description, error) {
	t := reflect.TypeOf(m)
	if cached, ok := descriptions.Load(t); ok {
		return cached.(*Description), nil
	}
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, oaerrors.NewHost("message type %T is not a struct pointer", m)
	}
	d := &Description{byName: map[string]*Part{}}
	if err := d.addFields(t.Elem(), nil); err != nil {
		return nil, err
	}
	descriptions.Store(t, d)
	return d, nil
}

func (d *Description) addFields(t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fieldIndex := append(append([]int(nil), index...), i)
		tag, tagged := f.Tag.Lookup("msg")
		if !tagged {
			if f.Anonymous && f.Type.Kind() == reflect.Struct {
				if err := d.addFields(f.Type, fieldIndex); err != nil {
					return err
				}
			}
			continue
		}
		if !f.IsExported() || tag == "-" {
			continue
		}
		opts := strings.Split(tag, ",")
		p := &Part{Name: opts[0], index: fieldIndex, typ: f.Type}
		if p.Name == "" {
			return oaerrors.NewHost("field %s.%s has an empty part name", t.Name(), f.Name)
		}
		for _, opt := range opts[1:] {
			switch opt {
			case "required":
				p.Required = true
			case "signed":
				p.Signed = true
			case "empty":
				p.AllowEmpty = true
			default:
				return oaerrors.NewHost("field %s.%s has unknown part option %q", t.Name(), f.Name, opt)
			}
		}
		if _, dup := d.byName[p.Name]; dup {
			return oaerrors.NewHost("duplicate part name %q on %s", p.Name, t.Name())
		}
		d.parts = append(d.parts, p)
		d.byName[p.Name] = p
	}
	return nil
}

var (
	timeType = reflect.TypeOf(time.Time{})
	urlType  = reflect.TypeOf(&url.URL{})
)

// encode renders the part's current value on msg as a wire string.
func (p *Part) encode(msg Message) (string, error) {
	v := reflect.ValueOf(msg).Elem().FieldByIndex(p.index)
	if enc, ok := v.Interface().(PartEncoder); ok {
		return enc.EncodePart()
	}
	switch {
	case p.typ == timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "", nil
		}
		return fmt.Sprintf("%d", t.Unix()), nil
	case p.typ == urlType:
		u := v.Interface().(*url.URL)
		if u == nil {
			return "", nil
		}
		return u.String(), nil
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", v.Uint()), nil
	default:
		return "", oaerrors.NewHost("part %q has unsupported type %s", p.Name, p.typ)
	}
}

// decode assigns a wire string to the part's field on msg.
func (p *Part) decode(msg Message, value string) error {
	v := reflect.ValueOf(msg).Elem().FieldByIndex(p.index)
	if v.CanAddr() {
		if dec, ok := v.Addr().Interface().(PartDecoder); ok {
			return dec.DecodePart(value)
		}
	}
	switch {
	case p.typ == timeType:
		var sec int64
		if _, err := fmt.Sscanf(value, "%d", &sec); err != nil {
			return oaerrors.NewValidation(p.Name, "part %q is not a unix timestamp: %q", p.Name, value)
		}
		v.Set(reflect.ValueOf(time.Unix(sec, 0).UTC()))
		return nil
	case p.typ == urlType:
		u, err := url.Parse(value)
		if err != nil {
			return oaerrors.NewValidation(p.Name, "part %q is not a valid URI: %q", p.Name, value)
		}
		v.Set(reflect.ValueOf(u))
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
		return nil
	case reflect.Bool:
		switch value {
		case "true", "1":
			v.SetBool(true)
		case "false", "0":
			v.SetBool(false)
		default:
			return oaerrors.NewValidation(p.Name, "part %q is not a boolean: %q", p.Name, value)
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return oaerrors.NewValidation(p.Name, "part %q is not an integer: %q", p.Name, value)
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return oaerrors.NewValidation(p.Name, "part %q is not an integer: %q", p.Name, value)
		}
		v.SetUint(n)
		return nil
	default:
		return oaerrors.NewHost("part %q has unsupported type %s", p.Name, p.typ)
	}
}
