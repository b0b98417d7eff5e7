package scenario

// Field is one data line of a section.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Section holds the fields of one named section in insertion order.
// Overriding an existing field keeps its original position.
type Section struct {
	names  []string
	values map[string]string
}

func newSection() *Section {
	return &Section{values: make(map[string]string)}
}

// Get returns the raw value of a field.
func (s *Section) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[name]
	return v, ok
}

// Set stores a field, appending it if it is new.
func (s *Section) Set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = value
}

// Fields returns the fields in insertion order. A nil section has none.
func (s *Section) Fields() []Field {
	if s == nil {
		return nil
	}
	fields := make([]Field, 0, len(s.names))
	for _, n := range s.names {
		fields = append(fields, Field{Name: n, Value: s.values[n]})
	}
	return fields
}

// Len returns the number of fields.
func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Record maps section names to sections. It is the in-memory form of a
// scenario file or of the defaults file.
type Record struct {
	order    []string
	sections map[string]*Section
}

// NewRecord creates a record with the given (empty) sections.
func NewRecord(sections ...string) *Record {
	r := &Record{sections: make(map[string]*Section)}
	for _, name := range sections {
		r.Ensure(name)
	}
	return r
}

// Ensure returns the named section, creating it if it is unseen.
func (r *Record) Ensure(name string) *Section {
	if s, ok := r.sections[name]; ok {
		return s
	}
	s := newSection()
	r.sections[name] = s
	r.order = append(r.order, name)
	return s
}

// Section returns the named section, or nil.
func (r *Record) Section(name string) *Section {
	return r.sections[name]
}

// Sections returns section names in the order they were introduced.
func (r *Record) Sections() []string {
	return append([]string(nil), r.order...)
}

// Get returns the value of section.field.
func (r *Record) Get(section, field string) (string, bool) {
	return r.Section(section).Get(field)
}

// Clone returns a deep copy; mutating it never affects r.
func (r *Record) Clone() *Record {
	c := NewRecord()
	if r == nil {
		return c
	}
	for _, name := range r.order {
		dst := c.Ensure(name)
		for _, f := range r.sections[name].Fields() {
			dst.Set(f.Name, f.Value)
		}
	}
	return c
}
