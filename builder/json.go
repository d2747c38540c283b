package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
)

// Element names of the JSON mapping.
const (
	JSONObjectName  = "jsonObject"
	JSONArrayName   = "jsonArray"
	JSONElementName = "jsonElement"
)

// JSON maps a JSON document to an element tree. Object members become child
// elements in document order, array items become repeated siblings, and
// null becomes an empty element with nil="true".
//
//	{"order":{"id":7,"items":["a","b"]}}
//
// becomes
//
//	<jsonObject><order><id>7</id><items>a</items><items>b</items></order></jsonObject>
type JSON struct{}

// Build implements Builder.
func (JSON) Build(_ *message.Context, r io.Reader) (*etree.Element, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	var root *etree.Element
	switch tok {
	case json.Delim('{'):
		root = etree.NewElement(JSONObjectName)
		err = decodeMembers(dec, root)
	case json.Delim('['):
		root = etree.NewElement(JSONArrayName)
		err = decodeItems(dec, root, JSONElementName)
	default:
		root = etree.NewElement(JSONObjectName)
		setScalar(root, tok)
	}
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("json: trailing data after document")
		}
		return nil, err
	}
	return root, nil
}

// DecodeJSON appends the JSON object or array read from r to parent.
func DecodeJSON(r io.Reader, parent *etree.Element) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	return decodeValue(dec, tok, parent, "")
}

// decodeValue appends the value starting at tok to parent. An empty name
// merges an object's members into parent itself.
func decodeValue(dec *json.Decoder, tok json.Token, parent *etree.Element, name string) error {
	switch tok {
	case json.Delim('{'):
		target := parent
		if name != "" {
			target = parent.CreateElement(name)
		}
		return decodeMembers(dec, target)
	case json.Delim('['):
		if name == "" {
			name = JSONElementName
		}
		return decodeItems(dec, parent, name)
	}
	if name == "" {
		setScalar(parent, tok)
		return nil
	}
	setScalar(parent.CreateElement(name), tok)
	return nil
}

func decodeMembers(dec *json.Decoder, parent *etree.Element) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("json: unexpected object key %v", keyTok)
		}
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if err := decodeValue(dec, tok, parent, elementName(key)); err != nil {
			return err
		}
	}
	_, err := dec.Token() // '}'
	return err
}

func decodeItems(dec *json.Decoder, parent *etree.Element, name string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if tok == json.Delim('[') {
			// nested arrays keep their own wrapper
			wrapper := parent.CreateElement(name)
			if err := decodeItems(dec, wrapper, JSONElementName); err != nil {
				return err
			}
			continue
		}
		if err := decodeValue(dec, tok, parent, name); err != nil {
			return err
		}
	}
	_, err := dec.Token() // ']'
	return err
}

func setScalar(el *etree.Element, tok json.Token) {
	switch v := tok.(type) {
	case nil:
		el.CreateAttr("nil", "true")
	case string:
		el.SetText(v)
	case json.Number:
		el.SetText(v.String())
	case bool:
		if v {
			el.SetText("true")
		} else {
			el.SetText("false")
		}
	}
}

// elementName turns a JSON key into a valid XML element name.
func elementName(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range key {
		switch {
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune(r)
		case i == 0 && unicode.IsDigit(r):
			b.WriteRune('_')
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
