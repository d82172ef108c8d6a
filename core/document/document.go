// Package document reads and writes protocol documents. Documents are
// JSON (the native format) or YAML; both are schema-validated before
// decoding, and the generator version is stamped on the way out and
// checked on the way in.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/aurora-unicycler/unicycler/core/protocol"
)

// Overrides are applied to a document before validation, so a template
// document with a placeholder name can be completed at load time.
type Overrides struct {
	SampleName  string
	CapacityMAh float64
}

// ParseJSON decodes, schema-validates, and structurally validates a JSON
// protocol document.
func ParseJSON(data []byte, o *Overrides) (*protocol.Protocol, error) {
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateSchema(generic); err != nil {
		return nil, err
	}

	var p protocol.Protocol
	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&p); err != nil {
		return nil, err
	}

	applyOverrides(&p, o)
	if err := checkVersion(p.Unicycler.Version); err != nil {
		return nil, err
	}
	p.Unicycler.Version = protocol.Version

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseYAML decodes a YAML protocol document. The YAML tree is converted
// to its JSON equivalent and run through the same schema and decode path
// as native JSON documents.
func ParseYAML(data []byte, o *Overrides) (*protocol.Protocol, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("cannot convert YAML document to JSON: %w", err)
	}
	return ParseJSON(jsonData, o)
}

// Load reads a protocol document from disk, choosing the decoder by file
// extension (.yaml/.yml for YAML, anything else JSON).
func Load(path string, o *Overrides) (*protocol.Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data, o)
	default:
		return ParseJSON(data, o)
	}
}

// Encode renders a protocol as an indented JSON document with the
// current generator version stamped in.
func Encode(p *protocol.Protocol) ([]byte, error) {
	c := p.Clone()
	c.Unicycler.Version = protocol.Version
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Save writes a protocol document to disk as JSON.
func Save(path string, p *protocol.Protocol) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyOverrides(p *protocol.Protocol, o *Overrides) {
	if o == nil {
		return
	}
	if o.SampleName != "" {
		p.Sample.Name = o.SampleName
	}
	if o.CapacityMAh != 0 {
		p.Sample.CapacityMAh = protocol.Quantity(o.CapacityMAh)
	}
}

// checkVersion rejects documents written by a newer generator, since
// they may carry fields or semantics this version does not understand.
func checkVersion(docVersion string) error {
	if docVersion == "" {
		return nil
	}
	dv := "v" + strings.TrimPrefix(docVersion, "v")
	if !semver.IsValid(dv) {
		return fmt.Errorf("document has invalid version %q", docVersion)
	}
	if semver.Compare(dv, "v"+protocol.Version) > 0 {
		return fmt.Errorf("document version %s is newer than this version (%s), refusing to load",
			docVersion, protocol.Version)
	}
	return nil
}
