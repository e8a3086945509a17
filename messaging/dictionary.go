package messaging

import (
	"net/url"

	oaerrors "go.pilab.hu/openauth/errors"
)

// Marshal flattens a message into its wire fields: declared parts first, then
// extra data. Optional parts whose value is empty are omitted; a required
// part that encodes to an empty string (and does not allow empty) is a
// validation fault.
func Marshal(m Message) (url.Values, error) {
	d, err := Describe(m)
	if err != nil {
		return nil, err
	}
	fields := url.Values{}
	for _, p := range d.Parts() {
		value, err := p.encode(m)
		if err != nil {
			return nil, err
		}
		if value == "" {
			if p.Required && !p.AllowEmpty {
				return nil, oaerrors.NewValidation(p.Name, "required part %q is empty", p.Name)
			}
			if !p.Required {
				continue
			}
		}
		fields.Set(p.Name, value)
	}
	for name, values := range m.ExtraData() {
		if _, shadowed := fields[name]; shadowed {
			return nil, oaerrors.NewValidation(name, "extra data part %q collides with a declared part", name)
		}
		fields[name] = append([]string(nil), values...)
	}
	return fields, nil
}

// Unmarshal reads wire fields into a message: declared parts are decoded and
// checked for presence, everything else lands in extra data. A field supplied
// more than once is ambiguous and rejected.
func Unmarshal(fields url.Values, m Message) error {
	d, err := Describe(m)
	if err != nil {
		return err
	}
	for _, p := range d.Parts() {
		values, present := fields[p.Name]
		if !present || len(values) == 0 {
			if p.Required {
				return oaerrors.NewValidation(p.Name, "required part %q is missing", p.Name)
			}
			continue
		}
		if len(values) > 1 {
			return oaerrors.NewValidation(p.Name, "part %q supplied %d times", p.Name, len(values))
		}
		if values[0] == "" && !p.AllowEmpty {
			if p.Required {
				return oaerrors.NewValidation(p.Name, "required part %q is empty", p.Name)
			}
			continue
		}
		if err := p.decode(m, values[0]); err != nil {
			return err
		}
	}
	extra := m.ExtraData()
	for name, values := range fields {
		if _, declared := d.byName[name]; declared {
			continue
		}
		if len(values) > 1 {
			return oaerrors.NewValidation(name, "part %q supplied %d times", name, len(values))
		}
		extra.Set(name, values[0])
	}
	return nil
}
