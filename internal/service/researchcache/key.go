package researchcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Namespaces prefixed onto cache keys so company-profile lookups and
// people extraction never collide for the same input.
const (
	NamespaceCompany = "enrich_company:"
	NamespacePeople  = "process_company:"
)

// Key returns namespace + hex(SHA-256(canonical JSON of input)). The
// canonical form sorts object keys and carries no whitespace, so two inputs
// that marshal to the same logical document share a key regardless of field
// order. Clock and randomness never enter the key.
func Key(namespace string, input any) (string, error) {
	canon, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("op=researchcache.Key: %w", err)
	}
	sum := sha256.Sum256(canon)
	return namespace + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v, then re-encodes the resulting document with
// sorted object keys. json.Number keeps integer literals intact.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
	return nil
}
