package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
)

// listKeys are the envelope keys under which JSON exports wrap their records.
var listKeys = []string{"data", "expedientes", "resultados", "results", "records", "items", "procedimientos"}

// JSONNormalizer reads structured list payloads: a top-level array of
// records, an envelope object holding one, or a single record object.
type JSONNormalizer struct {
	transformer *Transformer
}

func NewJSON(opts Options) *JSONNormalizer {
	return &JSONNormalizer{transformer: NewTransformer(opts.Vocabulary, opts.location())}
}

func (n *JSONNormalizer) Family() string { return FamilyJSON }

func (n *JSONNormalizer) Normalize(a Artifact, content []byte) (Result, error) {
	items, err := splitJSONRecords(content)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", a.Name, err)
	}

	var res Result
	for i, raw := range items {
		tender, err := n.decodeRecord(a, raw)
		if err != nil {
			res.Failures++
			logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).
				Debugf("skipping record %d", i)
			continue
		}
		res.Tenders = append(res.Tenders, tender)
	}
	return res, nil
}

func (n *JSONNormalizer) decodeRecord(a Artifact, raw json.RawMessage) (*models.Tender, error) {
	record, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(record))
	flatten("", record, flat)
	return n.transformer.Transform(a, flat, compact(raw))
}

// splitJSONRecords returns the raw records of a document without validating
// them, so a corrupt record fails on its own in decodeRecord.
func splitJSONRecords(content []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		elems, err := topLevelElements(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decoding record list: %w", err)
		}
		items := make([]json.RawMessage, len(elems))
		for i, e := range elems {
			items[i] = json.RawMessage(e)
		}
		return items, nil
	case '{':
		members, err := objectMembers(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decoding object: %w", err)
		}
		for _, key := range listKeys {
			inner, ok := members[key]
			if !ok || len(inner) == 0 || inner[0] != '[' {
				continue
			}
			if nested, err := splitJSONRecords(inner); err == nil {
				return nested, nil
			}
		}
		return []json.RawMessage{trimmed}, nil
	}
	return nil, fmt.Errorf("unexpected JSON document starting with %q", trimmed[0])
}

// topLevelElements splits an array or object at its depth-one commas. It
// tracks strings and nesting only; elements are not validated. It fails when
// the brackets never balance, since nothing after that point can be trusted.
func topLevelElements(doc []byte) ([][]byte, error) {
	var (
		elems    [][]byte
		depth    int
		inString bool
		escaped  bool
	)
	start := 1
	for i := 1; i < len(doc); i++ {
		c := doc[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
				continue
			}
			last := bytes.TrimSpace(doc[start:i])
			if len(last) > 0 || len(elems) > 0 {
				elems = append(elems, last)
			}
			if rest := bytes.TrimSpace(doc[i+1:]); len(rest) > 0 {
				return nil, fmt.Errorf("unexpected data after offset %d", i)
			}
			return elems, nil
		case ',':
			if depth == 0 {
				elems = append(elems, bytes.TrimSpace(doc[start:i]))
				start = i + 1
			}
		}
	}
	return nil, errors.New("unbalanced brackets")
}

// objectMembers maps the keys of a top-level object to their raw values.
// Members whose key cannot be read are ignored.
func objectMembers(doc []byte) (map[string][]byte, error) {
	elems, err := topLevelElements(doc)
	if err != nil {
		return nil, err
	}
	members := make(map[string][]byte, len(elems))
	for _, member := range elems {
		dec := json.NewDecoder(bytes.NewReader(member))
		tok, err := dec.Token()
		if err != nil {
			continue
		}
		key, ok := tok.(string)
		if !ok {
			continue
		}
		rest := bytes.TrimSpace(member[dec.InputOffset():])
		if len(rest) == 0 || rest[0] != ':' {
			continue
		}
		members[key] = bytes.TrimSpace(rest[1:])
	}
	return members, nil
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record map[string]interface{}
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return record, nil
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(append([]byte(nil), raw...))
	}
	return json.RawMessage(buf.Bytes())
}
