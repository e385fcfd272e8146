package dtdl

// Flatten merges the contents of an interface with the contents of all its
// bases. Duplicates by name are de-duplicated; definitions on the derived
// interface shadow any base definition of the same name. The bases slice
// must be ordered nearest-first (the bases array persisted with the model
// already is).
func Flatten(iface *Interface, bases []*Interface) []Content {
	var out []Content
	seen := map[string]bool{}

	appendUnseen := func(contents []Content) {
		for _, c := range contents {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			out = append(out, c)
		}
	}

	appendUnseen(iface.Contents)
	for _, base := range bases {
		if base == nil {
			continue
		}
		appendUnseen(base.Contents)
	}
	return out
}

// FindContent returns the content entry with the given name from a
// flattened contents slice, or nil.
func FindContent(contents []Content, name string) *Content {
	for i := range contents {
		if contents[i].Name == name {
			return &contents[i]
		}
	}
	return nil
}

// FindContentOfKind returns the named content entry only when it has the
// given kind.
func FindContentOfKind(contents []Content, name, kind string) *Content {
	c := FindContent(contents, name)
	if c == nil || c.Kind != kind {
		return nil
	}
	return c
}
